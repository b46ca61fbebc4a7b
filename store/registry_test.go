package store

import (
	"testing"

	"tinyssb.dev/node/wire"
)

func TestRegistryActivateDeactivateAndNotify(t *testing.T) {
	root, err := OpenRoot(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	reg, err := OpenRegistry(root)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	defer reg.Close()

	var events []string
	reg.Subscribe(func(fid wire.FID, kind FeedKind, activated bool) {
		if activated {
			events = append(events, "activate:"+kind.String())
		} else {
			events = append(events, "deactivate:"+kind.String())
		}
	})

	var fid wire.FID
	fid[0] = 0x01
	if err := reg.Activate(fid, PublicRemote); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	kind, ok := reg.Kind(fid)
	if !ok || kind != PublicRemote {
		t.Fatalf("Kind = %v, %v; want PublicRemote, true", kind, ok)
	}

	if err := reg.Deactivate(fid); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, ok := reg.Kind(fid); ok {
		t.Fatalf("expected feed to be gone after Deactivate")
	}

	want := []string{"activate:public-remote", "deactivate:public-remote"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestRegistryDeactivateUnknownFeedFails(t *testing.T) {
	root, err := OpenRoot(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	reg, err := OpenRegistry(root)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	defer reg.Close()

	var fid wire.FID
	if err := reg.Deactivate(fid); err == nil {
		t.Fatalf("expected error deactivating an unregistered feed")
	}
}

func TestRegistryAllListsEveryActiveFeed(t *testing.T) {
	root, err := OpenRoot(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	reg, err := OpenRegistry(root)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	defer reg.Close()

	var f1, f2 wire.FID
	f1[0], f2[0] = 0x01, 0x02
	if err := reg.Activate(f1, Private); err != nil {
		t.Fatalf("activate f1: %v", err)
	}
	if err := reg.Activate(f2, PublicLocal); err != nil {
		t.Fatalf("activate f2: %v", err)
	}

	all, err := reg.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 || all[f1] != Private || all[f2] != PublicLocal {
		t.Fatalf("All() = %v, want {f1:Private, f2:PublicLocal}", all)
	}
}
