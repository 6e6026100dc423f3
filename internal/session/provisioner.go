package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkloadStatus is what the external orchestrator reports for an instance.
type WorkloadStatus struct {
	Healthy  bool   `json:"healthy"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Provisioner is the workload orchestrator collaborator: create a running
// game-server instance for a match, observe it, tear it down. All three calls
// may fail transiently and are retried by the orchestrator.
type Provisioner interface {
	CreateWorkload(ctx context.Context, matchID string, players []string) (handle string, err error)
	GetWorkloadStatus(ctx context.Context, handle string) (WorkloadStatus, error)
	DestroyWorkload(ctx context.Context, handle string) error
}

// HTTPProvisioner talks to an orchestrator over its HTTP API.
type HTTPProvisioner struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvisioner(baseURL string) *HTTPProvisioner {
	return &HTTPProvisioner{baseURL: baseURL, client: &http.Client{Timeout: 15 * time.Second}}
}

func (p *HTTPProvisioner) CreateWorkload(ctx context.Context, matchID string, players []string) (string, error) {
	body, _ := json.Marshal(map[string]any{"match_id": matchID, "players": players})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/workloads", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create workload: status %d", resp.StatusCode)
	}
	var out struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Handle == "" {
		return "", fmt.Errorf("create workload: empty handle")
	}
	return out.Handle, nil
}

func (p *HTTPProvisioner) GetWorkloadStatus(ctx context.Context, handle string) (WorkloadStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/workloads/"+handle, nil)
	if err != nil {
		return WorkloadStatus{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return WorkloadStatus{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return WorkloadStatus{}, fmt.Errorf("workload status: status %d", resp.StatusCode)
	}
	var st WorkloadStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return WorkloadStatus{}, err
	}
	return st, nil
}

func (p *HTTPProvisioner) DestroyWorkload(ctx context.Context, handle string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/workloads/"+handle, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("destroy workload: status %d", resp.StatusCode)
	}
	return nil
}

// LocalProvisioner fakes workloads in process so the binary runs end-to-end
// without an external orchestrator (dev mode, selected when no orchestrator
// URL is configured).
type LocalProvisioner struct {
	mu         sync.Mutex
	workloads  map[string]time.Time // handle -> created
	readyAfter time.Duration
}

func NewLocalProvisioner(readyAfter time.Duration) *LocalProvisioner {
	return &LocalProvisioner{workloads: map[string]time.Time{}, readyAfter: readyAfter}
}

func (p *LocalProvisioner) CreateWorkload(_ context.Context, matchID string, _ []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	handle := "local-" + uuid.NewString()
	p.workloads[handle] = time.Now()
	return handle, nil
}

func (p *LocalProvisioner) GetWorkloadStatus(_ context.Context, handle string) (WorkloadStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	created, ok := p.workloads[handle]
	if !ok {
		return WorkloadStatus{}, fmt.Errorf("unknown workload %s", handle)
	}
	if time.Since(created) < p.readyAfter {
		return WorkloadStatus{Healthy: false}, nil
	}
	return WorkloadStatus{Healthy: true, Endpoint: "127.0.0.1:7777"}, nil
}

func (p *LocalProvisioner) DestroyWorkload(_ context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.workloads, handle)
	return nil
}
