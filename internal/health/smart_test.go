package health

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestParseSataReport(t *testing.T) {
	b, err := os.ReadFile("testdata/smartctl_sata.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	rep, err := parseReport("/dev/sdb", b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rep.Verdict != VerdictPass {
		t.Fatalf("expected pass, got %q", rep.Verdict)
	}
	if rep.TempCelsius == nil || *rep.TempCelsius != 34 {
		t.Fatalf("temperature not parsed: %v", rep.TempCelsius)
	}
	if rep.PowerOnHours == nil || *rep.PowerOnHours != 18254 {
		t.Fatalf("power-on hours not parsed: %v", rep.PowerOnHours)
	}
	if len(rep.Attributes) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(rep.Attributes))
	}
	var pending *Attribute
	for i := range rep.Attributes {
		if rep.Attributes[i].Name == "Current_Pending_Sector" {
			pending = &rep.Attributes[i]
		}
	}
	if pending == nil {
		t.Fatalf("Current_Pending_Sector missing")
	}
	if !pending.Failed || pending.Raw != 524 || pending.Threshold != 90 {
		t.Fatalf("failing attribute not flagged: %+v", pending)
	}
	if rep.SelfTest == nil || !rep.SelfTest.Running || rep.SelfTest.RemainingPercent != 90 {
		t.Fatalf("self-test progress not parsed: %+v", rep.SelfTest)
	}
}

func TestParseNvmeReport(t *testing.T) {
	b, err := os.ReadFile("testdata/smartctl_nvme.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	rep, err := parseReport("/dev/nvme0n1", b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rep.Verdict != VerdictPass {
		t.Fatalf("expected pass, got %q", rep.Verdict)
	}
	if rep.TempCelsius == nil || *rep.TempCelsius != 41 {
		t.Fatalf("nvme temperature fallback not applied: %v", rep.TempCelsius)
	}
	found := false
	for _, a := range rep.Attributes {
		if a.Name == "Media_Errors" {
			found = true
			if a.Failed {
				t.Fatalf("zero media errors should not be flagged")
			}
		}
	}
	if !found {
		t.Fatalf("nvme health log not exposed as attributes")
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := parseReport("/dev/sda", []byte("not json")); err == nil {
		t.Fatalf("expected parse error")
	}
}

type fakeStarter struct {
	device, testType string
	err              error
}

func (f *fakeStarter) SmartTest(ctx context.Context, device, testType string) error {
	f.device, f.testType = device, testType
	return f.err
}

func TestRunLongTestReturnsHandle(t *testing.T) {
	fs := &fakeStarter{}
	p := &Prober{Agent: fs}
	h, err := p.RunLongTest(context.Background(), "/dev/sdb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Device != "/dev/sdb" || h.Type != "long" || h.StartedAt.IsZero() {
		t.Fatalf("bad handle: %+v", h)
	}
	if fs.testType != "long" {
		t.Fatalf("agent not asked for long test: %q", fs.testType)
	}
}

func TestRunQuickTestRejectsNonDevice(t *testing.T) {
	p := &Prober{Agent: &fakeStarter{}}
	if _, err := p.RunQuickTest(context.Background(), "sdb"); !errors.Is(err, ErrUnsupportedDevice) {
		t.Fatalf("expected ErrUnsupportedDevice, got %v", err)
	}
}
