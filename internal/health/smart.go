package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dark-ant616/DarkDiskz/pkg/shell"
)

var (
	ErrToolMissing       = errors.New("smartctl not installed")
	ErrUnsupportedDevice = errors.New("device has no SMART interface")
)

// smartctl exit status is a bitmask; bits 0-2 mean the tool could not talk
// to the device at all. Higher bits report drive problems and still carry a
// usable JSON document.
const smartctlHardFailMask = 0x07

// test seam
var runSmartctl = func(ctx context.Context, args ...string) (shell.Result, error) {
	return shell.Run(ctx, 15*time.Second, "smartctl", args...)
}

// ReadReport reads the current SMART state of a device. The scan is
// read-only; self-test issuance goes through the privileged agent instead.
func ReadReport(ctx context.Context, device string) (Report, error) {
	if _, err := exec.LookPath("smartctl"); err != nil {
		return Report{}, ErrToolMissing
	}
	res, err := runSmartctl(ctx, "-H", "-A", "-j", device)
	if err != nil && res.Code&smartctlHardFailMask != 0 {
		// Retry as NVMe before giving up, mirroring smartctl's own probing.
		res, err = runSmartctl(ctx, "-H", "-A", "-j", "-d", "nvme", device)
	}
	if res.Code&smartctlHardFailMask != 0 {
		return Report{}, fmt.Errorf("%w: %s", ErrUnsupportedDevice, device)
	}
	if err != nil && res.Code == -1 {
		return Report{}, fmt.Errorf("smartctl: %w", err)
	}
	rep, perr := parseReport(device, res.Stdout)
	if perr != nil {
		return Report{}, perr
	}
	return rep, nil
}

// smartctlDoc maps the subset of smartctl -j output we consume.
type smartctlDoc struct {
	ModelName    string `json:"model_name"`
	SerialNumber string `json:"serial_number"`
	SmartStatus  *struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	Temperature *struct {
		Current int `json:"current"`
	} `json:"temperature"`
	PowerOnTime *struct {
		Hours int `json:"hours"`
	} `json:"power_on_time"`
	AtaSmartAttributes *struct {
		Table []struct {
			ID         int    `json:"id"`
			Name       string `json:"name"`
			Value      int    `json:"value"`
			Worst      int    `json:"worst"`
			Thresh     int    `json:"thresh"`
			WhenFailed string `json:"when_failed"`
			Raw        struct {
				Value int64 `json:"value"`
			} `json:"raw"`
		} `json:"table"`
	} `json:"ata_smart_attributes"`
	AtaSmartData *struct {
		SelfTest *struct {
			Status struct {
				String           string `json:"string"`
				Passed           *bool  `json:"passed"`
				RemainingPercent *int   `json:"remaining_percent"`
			} `json:"status"`
		} `json:"self_test"`
	} `json:"ata_smart_data"`
	NvmeLog *struct {
		MediaErrors     int64 `json:"media_errors"`
		Temperature     int   `json:"temperature"`
		PercentageUsed  int64 `json:"percentage_used"`
		UnsafeShutdowns int64 `json:"unsafe_shutdowns"`
	} `json:"nvme_smart_health_information_log"`
}

func parseReport(device string, raw []byte) (Report, error) {
	var doc smartctlDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Report{}, fmt.Errorf("smartctl json: %w", err)
	}
	rep := Report{
		Device:  device,
		Verdict: VerdictUnknown,
		Model:   doc.ModelName,
		Serial:  doc.SerialNumber,
		ReadAt:  time.Now().UTC(),
	}
	if doc.SmartStatus != nil {
		if doc.SmartStatus.Passed {
			rep.Verdict = VerdictPass
		} else {
			rep.Verdict = VerdictFail
		}
	}
	if doc.Temperature != nil {
		t := doc.Temperature.Current
		rep.TempCelsius = &t
	}
	if doc.PowerOnTime != nil {
		h := doc.PowerOnTime.Hours
		rep.PowerOnHours = &h
	}
	if doc.AtaSmartAttributes != nil {
		for _, row := range doc.AtaSmartAttributes.Table {
			failed := row.WhenFailed != "" || (row.Thresh > 0 && row.Value <= row.Thresh)
			rep.Attributes = append(rep.Attributes, Attribute{
				ID:         row.ID,
				Name:       row.Name,
				Value:      row.Value,
				Worst:      row.Worst,
				Threshold:  row.Thresh,
				WhenFailed: row.WhenFailed,
				Raw:        row.Raw.Value,
				Failed:     failed,
			})
		}
	}
	if doc.NvmeLog != nil {
		// NVMe has no attribute table; expose the health log as attributes.
		rep.Attributes = append(rep.Attributes,
			Attribute{Name: "Media_Errors", Raw: doc.NvmeLog.MediaErrors, Failed: doc.NvmeLog.MediaErrors > 0},
			Attribute{Name: "Percentage_Used", Raw: doc.NvmeLog.PercentageUsed},
			Attribute{Name: "Unsafe_Shutdowns", Raw: doc.NvmeLog.UnsafeShutdowns},
		)
		if rep.TempCelsius == nil {
			t := doc.NvmeLog.Temperature
			rep.TempCelsius = &t
		}
	}
	if doc.AtaSmartData != nil && doc.AtaSmartData.SelfTest != nil {
		st := doc.AtaSmartData.SelfTest.Status
		sel := SelfTest{Status: st.String, Passed: st.Passed}
		if st.RemainingPercent != nil {
			sel.Running = true
			sel.RemainingPercent = *st.RemainingPercent
		}
		rep.SelfTest = &sel
	}
	return rep, nil
}

// TestStarter issues a privileged smartctl self-test. Satisfied by
// agentclient.Client.
type TestStarter interface {
	SmartTest(ctx context.Context, device, testType string) error
}

// Prober issues self-tests through the agent and reads reports directly.
type Prober struct {
	Agent TestStarter
}

// RunQuickTest starts a short offline self-test and returns immediately.
func (p *Prober) RunQuickTest(ctx context.Context, device string) (TestHandle, error) {
	return p.startTest(ctx, device, "short")
}

// RunLongTest starts an extended self-test and returns immediately; the
// drive continues on its own and progress shows up in ReadReport.
func (p *Prober) RunLongTest(ctx context.Context, device string) (TestHandle, error) {
	return p.startTest(ctx, device, "long")
}

func (p *Prober) startTest(ctx context.Context, device, testType string) (TestHandle, error) {
	if !strings.HasPrefix(device, "/dev/") {
		return TestHandle{}, fmt.Errorf("%w: %s", ErrUnsupportedDevice, device)
	}
	if err := p.Agent.SmartTest(ctx, device, testType); err != nil {
		return TestHandle{}, err
	}
	return TestHandle{Device: device, Type: testType, StartedAt: time.Now().UTC()}, nil
}
