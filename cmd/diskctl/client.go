package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIClient handles communication with the darkdiskzd API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *APIClient) doRequest(method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("API error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return respBody, nil
}

func (c *APIClient) get(path string, v any) error {
	b, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (c *APIClient) post(path string, body, v any) error {
	b, err := c.doRequest(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(b, v)
}

// Typed views over the API payloads. Only the fields the CLI renders.

type systemInfo struct {
	Hostname    string  `json:"hostname"`
	Uptime      uint64  `json:"uptime"`
	Kernel      string  `json:"kernel"`
	Platform    string  `json:"platform"`
	CPUCount    int     `json:"cpuCount"`
	MemoryTotal uint64  `json:"memoryTotal"`
	MemoryUsed  uint64  `json:"memoryUsed"`
	RootUsedPct float64 `json:"rootUsedPct"`
	Version     string  `json:"version"`
}

type diskInfo struct {
	Name       string  `json:"name"`
	Path       string  `json:"path"`
	SizeBytes  uint64  `json:"size"`
	Model      string  `json:"model"`
	Tran       string  `json:"tran"`
	FSType     string  `json:"fstype"`
	Mountpoint *string `json:"mountpoint"`
	Role       string  `json:"role"`
}

type arrayInfo struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Level   string   `json:"level"`
	State   string   `json:"state"`
	Members []string `json:"members"`
}

type smartReport struct {
	Device       string `json:"device"`
	Verdict      string `json:"verdict"`
	TempCelsius  *int   `json:"temp_c"`
	PowerOnHours *int   `json:"power_on_hours"`
	SelfTest     *struct {
		Status           string `json:"status"`
		Running          bool   `json:"running"`
		RemainingPercent int    `json:"remaining_percent"`
	} `json:"self_test"`
	Attributes []struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Raw    int64  `json:"raw"`
		Failed bool   `json:"failed"`
	} `json:"attributes"`
}

type planStep struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Cmd         string   `json:"cmd"`
	Args        []string `json:"args"`
	Destructive bool     `json:"destructive"`
}

type planInfo struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Devices  []string   `json:"devices"`
	Steps    []planStep `json:"steps"`
	Warnings []string   `json:"warnings"`
	State    string     `json:"state"`
}

type planResponse struct {
	Plan         planInfo `json:"plan"`
	ConfirmToken string   `json:"confirm_token"`
}

type txStep struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Code   *int   `json:"code"`
	Stderr string `json:"stderr"`
}

type txInfo struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	State      string   `json:"state"`
	FailedStep int      `json:"failed_step"`
	Error      string   `json:"error"`
	Steps      []txStep `json:"steps"`
}

func (c *APIClient) systemInfo() (systemInfo, error) {
	var v systemInfo
	err := c.get("/api/v1/system", &v)
	return v, err
}

func (c *APIClient) listDisks() ([]diskInfo, error) {
	var v struct {
		Devices []diskInfo `json:"devices"`
	}
	err := c.get("/api/v1/disks", &v)
	return v.Devices, err
}

func (c *APIClient) listArrays() ([]arrayInfo, error) {
	var v struct {
		Arrays []arrayInfo `json:"arrays"`
	}
	err := c.get("/api/v1/raid/arrays", &v)
	return v.Arrays, err
}

func (c *APIClient) listBcache() ([]diskInfo, error) {
	var v struct {
		Devices []diskInfo `json:"devices"`
	}
	err := c.get("/api/v1/bcache/devices", &v)
	return v.Devices, err
}

func (c *APIClient) smart(name string) (smartReport, error) {
	var v smartReport
	err := c.get("/api/v1/smart/"+name, &v)
	return v, err
}

func (c *APIClient) smartTest(name, testType string) error {
	return c.post("/api/v1/smart/"+name+"/test", map[string]string{"type": testType}, nil)
}

func (c *APIClient) createPlan(intent any) (planResponse, error) {
	var v planResponse
	err := c.post("/api/v1/plans", intent, &v)
	return v, err
}

func (c *APIClient) applyPlan(id, token string) (txInfo, error) {
	var v txInfo
	err := c.post("/api/v1/plans/"+id+"/apply", map[string]string{"confirm_token": token}, &v)
	return v, err
}

func (c *APIClient) getTx(id string) (txInfo, error) {
	var v txInfo
	err := c.get("/api/v1/tx/"+id, &v)
	return v, err
}

func (c *APIClient) cancelTx(id string) error {
	return c.post("/api/v1/tx/"+id+"/cancel", map[string]any{}, nil)
}
