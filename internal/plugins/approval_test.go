package plugins

import (
	"path/filepath"
	"testing"
	"time"
)

func TestApprovalStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ApprovedFilename)
	store, err := OpenApprovalStore(path, []byte("test-secret"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	ok, err := store.IsApproved("weather", "1.0.0")
	if err != nil || ok {
		t.Fatalf("expected unapproved plugin to report false, got ok=%v err=%v", ok, err)
	}

	if err := store.Approve("weather", "1.0.0", "reviewer", time.Hour); err != nil {
		t.Fatalf("approve: %v", err)
	}

	ok, err = store.IsApproved("weather", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("expected approved plugin to report true, got ok=%v err=%v", ok, err)
	}

	// A newer, unreviewed version must not inherit the old approval.
	ok, err = store.IsApproved("weather", "2.0.0")
	if err != nil || ok {
		t.Fatalf("expected version mismatch to be unapproved, got ok=%v err=%v", ok, err)
	}
}

func TestApprovalStoreApprovedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), ApprovedFilename)
	store, err := OpenApprovalStore(path, []byte("test-secret"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	if _, ok := store.ApprovedVersion("weather"); ok {
		t.Fatal("expected no approved version before any approval is recorded")
	}

	if err := store.Approve("weather", "1.0.0", "reviewer", time.Hour); err != nil {
		t.Fatalf("approve: %v", err)
	}

	version, ok := store.ApprovedVersion("weather")
	if !ok || version != "1.0.0" {
		t.Fatalf("expected approved version 1.0.0, got %q ok=%v", version, ok)
	}

	if err := store.Revoke("weather"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, ok := store.ApprovedVersion("weather"); ok {
		t.Fatal("expected revoked plugin to report no approved version")
	}
}

func TestApprovalStoreRejectsTamperedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), ApprovedFilename)
	store, err := OpenApprovalStore(path, []byte("test-secret"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Approve("weather", "1.0.0", "reviewer", time.Hour); err != nil {
		t.Fatalf("approve: %v", err)
	}

	other, err := OpenApprovalStore(path, []byte("different-secret"))
	if err != nil {
		t.Fatalf("open store with different secret: %v", err)
	}
	ok, err := other.IsApproved("weather", "1.0.0")
	if err != nil || ok {
		t.Fatalf("expected a token signed with a different secret to fail verification, got ok=%v err=%v", ok, err)
	}
}

func TestApprovalStoreRevoke(t *testing.T) {
	path := filepath.Join(t.TempDir(), ApprovedFilename)
	store, _ := OpenApprovalStore(path, []byte("test-secret"))
	store.Approve("weather", "1.0.0", "reviewer", time.Hour)

	if err := store.Revoke("weather"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	ok, err := store.IsApproved("weather", "1.0.0")
	if err != nil || ok {
		t.Fatalf("expected revoked plugin to report false, got ok=%v err=%v", ok, err)
	}
}
