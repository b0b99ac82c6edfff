package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"weltverbinder/internal/infra"
	"weltverbinder/internal/store"
)

func useMemoryStore(t *testing.T) *store.Memory {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	mem := store.NewMemory()
	prev := openStore
	openStore = func(context.Context, *infra.Config, zerolog.Logger) (store.Store, func(), error) {
		return mem, func() {}, nil
	}
	t.Cleanup(func() {
		openStore = prev
		confirmDelete = false
		energizerPool = nil
	})
	return mem
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCompleteStepCreatesClass(t *testing.T) {
	mem := useMemoryStore(t)

	out, err := run(t, "complete-step", "Klasse 4b", "d1-s1")
	if err != nil {
		t.Fatalf("complete-step: %v", err)
	}
	if !strings.Contains(out, `"d1-s1": true`) {
		t.Fatalf("unexpected output %s", out)
	}
	raw, _ := mem.Get(context.Background(), "classes/klasse-4b/state")
	if !strings.Contains(string(raw), `"completedSteps":{"d1-s1":true}`) {
		t.Fatalf("stored %s", raw)
	}

	out, err = run(t, "complete-step", "klasse-4b", "d1-s1")
	if err != nil || !strings.Contains(out, "unchanged") {
		t.Fatalf("second complete-step = %q, %v", out, err)
	}
}

func TestUnlockDayAndShow(t *testing.T) {
	useMemoryStore(t)

	if _, err := run(t, "unlock-day", "4b"); err != nil {
		t.Fatalf("unlock-day: %v", err)
	}
	out, err := run(t, "show", "4b")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, `"currentDay": 2`) || !strings.Contains(out, `"completedDays": [`) {
		t.Fatalf("unexpected state %s", out)
	}

	out, err = run(t, "show", "unknown")
	if err != nil || !strings.Contains(out, `"state": null`) {
		t.Fatalf("show unknown = %q, %v", out, err)
	}
}

func TestListAndDelete(t *testing.T) {
	useMemoryStore(t)
	for _, class := range []string{"5a", "4b"} {
		if _, err := run(t, "complete-step", class, "d1-s1"); err != nil {
			t.Fatalf("seed %s: %v", class, err)
		}
	}

	out, _ := run(t, "list")
	if out != "4b\n5a\n" {
		t.Fatalf("list = %q", out)
	}

	if _, err := run(t, "delete", "4b"); err == nil {
		t.Fatal("expected delete without --yes to fail")
	}
	if _, err := run(t, "delete", "4b", "--yes"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, _ = run(t, "list")
	if out != "5a\n" {
		t.Fatalf("list after delete = %q", out)
	}
}

func TestRejectsEmptyClassName(t *testing.T) {
	useMemoryStore(t)
	if _, err := run(t, "show", "  ///  "); err == nil {
		t.Fatal("expected an error for an empty class name")
	}
}

func TestEnergyCommands(t *testing.T) {
	useMemoryStore(t)

	out, err := run(t, "spend-energy", "4b", "30")
	if err != nil || !strings.Contains(out, `"energy": 70`) {
		t.Fatalf("spend-energy = %q, %v", out, err)
	}
	out, err = run(t, "spend-energy", "4b", "500")
	if err != nil || !strings.Contains(out, `"energy": 0`) {
		t.Fatalf("spend-energy past zero = %q, %v", out, err)
	}
	out, err = run(t, "spend-energy", "4b", "5")
	if err != nil || !strings.Contains(out, "unchanged") {
		t.Fatalf("spend-energy at zero = %q, %v", out, err)
	}
	out, err = run(t, "restore-energy", "4b", "250")
	if err != nil || !strings.Contains(out, `"energy": 100`) {
		t.Fatalf("restore-energy = %q, %v", out, err)
	}

	for _, bad := range []string{"-1", "lots"} {
		if _, err := run(t, "spend-energy", "4b", bad); err == nil {
			t.Fatalf("expected spend-energy %s to fail", bad)
		}
	}
}

func TestUseEnergizer(t *testing.T) {
	mem := useMemoryStore(t)

	out, err := run(t, "use-energizer", "4b", "stretch")
	if err != nil || !strings.Contains(out, `"stretch"`) {
		t.Fatalf("use-energizer = %q, %v", out, err)
	}
	out, err = run(t, "use-energizer", "4b", "stretch")
	if err != nil || !strings.Contains(out, "unchanged") {
		t.Fatalf("second use-energizer = %q, %v", out, err)
	}

	if _, err := run(t, "use-energizer", "4b"); err == nil {
		t.Fatal("expected use-energizer without a name or --from to fail")
	}
	if _, err := run(t, "use-energizer", "4b", "--from", "stretch,dance"); err != nil {
		t.Fatalf("use-energizer --from: %v", err)
	}
	raw, _ := mem.Get(context.Background(), "classes/4b/state")
	if !strings.Contains(string(raw), `"usedEnergizers":["stretch","dance"]`) {
		t.Fatalf("stored %s", raw)
	}
	out, err = run(t, "use-energizer", "4b", "--from", "stretch,dance")
	if err != nil || !strings.Contains(out, "unchanged") {
		t.Fatalf("exhausted pool = %q, %v", out, err)
	}
}

func TestIntroSeen(t *testing.T) {
	useMemoryStore(t)

	out, err := run(t, "intro-seen", "4b", "3")
	if err != nil || !strings.Contains(out, `"3": true`) {
		t.Fatalf("intro-seen = %q, %v", out, err)
	}
	out, err = run(t, "intro-seen", "4b", "3")
	if err != nil || !strings.Contains(out, "unchanged") {
		t.Fatalf("second intro-seen = %q, %v", out, err)
	}
	for _, bad := range []string{"0", "6", "two"} {
		if _, err := run(t, "intro-seen", "4b", bad); err == nil {
			t.Fatalf("expected intro-seen %s to fail", bad)
		}
	}
}
