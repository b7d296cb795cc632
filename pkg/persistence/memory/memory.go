// Package memory provides an in-memory persistence implementation for
// single-process deployments and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
)

type Persistence struct {
	mu sync.Mutex

	workflows map[string]*models.Workflow
	nodes     map[string]*models.WorkflowNode
	timers    map[string]*models.WorkflowTimer
	devices   map[string]*models.Device

	// nodeSeq keeps node ids monotonic per workflow even across deletions.
	nodeSeq map[string]int
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows: make(map[string]*models.Workflow),
		nodes:     make(map[string]*models.WorkflowNode),
		timers:    make(map[string]*models.WorkflowTimer),
		devices:   make(map[string]*models.Device),
		nodeSeq:   make(map[string]int),
	}
}

func workflowKey(domainID, workflowID string) string {
	return domainID + "/" + workflowID
}

func nodeKey(domainID, workflowID string, nodeID int) string {
	return fmt.Sprintf("%s/%s/%d", domainID, workflowID, nodeID)
}

func (p *Persistence) Workflows(_ context.Context, domainID string) ([]*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result []*models.Workflow

	for _, wf := range p.workflows {
		if wf.DomainID == domainID {
			copied := *wf
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (p *Persistence) WorkflowByID(_ context.Context, domainID, workflowID string) (*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wf, ok := p.workflows[workflowKey(domainID, workflowID)]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	copied := *wf

	return &copied, nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *workflow
	copied.UpdatedAt = time.Now()

	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = copied.UpdatedAt
	}

	p.workflows[workflowKey(workflow.DomainID, workflow.ID)] = &copied

	return nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, domainID, workflowID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := workflowKey(domainID, workflowID)
	if _, ok := p.workflows[key]; !ok {
		return persistence.ErrWorkflowNotFound
	}

	delete(p.workflows, key)

	return nil
}

func (p *Persistence) Nodes(_ context.Context, domainID, workflowID string) ([]*models.WorkflowNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result []*models.WorkflowNode

	for _, node := range p.nodes {
		if node.DomainID == domainID && node.WorkflowID == workflowID {
			result = append(result, cloneNode(node))
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (p *Persistence) NodeByID(_ context.Context, domainID, workflowID string, nodeID int) (*models.WorkflowNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, ok := p.nodes[nodeKey(domainID, workflowID, nodeID)]
	if !ok {
		return nil, persistence.ErrNodeNotFound
	}

	return cloneNode(node), nil
}

func (p *Persistence) SaveNode(_ context.Context, node *models.WorkflowNode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nodes[nodeKey(node.DomainID, node.WorkflowID, node.ID)] = cloneNode(node)

	seqKey := workflowKey(node.DomainID, node.WorkflowID)
	if node.ID > p.nodeSeq[seqKey] {
		p.nodeSeq[seqKey] = node.ID
	}

	return nil
}

func (p *Persistence) DeleteNodes(_ context.Context, domainID, workflowID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, node := range p.nodes {
		if node.DomainID == domainID && node.WorkflowID == workflowID {
			delete(p.nodes, key)
		}
	}

	return nil
}

func (p *Persistence) NextNodeID(_ context.Context, domainID, workflowID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := workflowKey(domainID, workflowID)
	p.nodeSeq[key]++

	return p.nodeSeq[key], nil
}

func (p *Persistence) SaveTimer(_ context.Context, timer *models.WorkflowTimer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := cloneTimer(timer)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}

	p.timers[nodeKey(timer.DomainID, timer.WorkflowID, timer.NodeID)] = copied

	return nil
}

func (p *Persistence) TimerByNode(_ context.Context, domainID, workflowID string, nodeID int) (*models.WorkflowTimer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timer, ok := p.timers[nodeKey(domainID, workflowID, nodeID)]
	if !ok {
		return nil, persistence.ErrTimerNotFound
	}

	return cloneTimer(timer), nil
}

func (p *Persistence) DeleteTimer(_ context.Context, domainID, workflowID string, nodeID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := nodeKey(domainID, workflowID, nodeID)
	if _, ok := p.timers[key]; !ok {
		return persistence.ErrTimerNotFound
	}

	delete(p.timers, key)

	return nil
}

func (p *Persistence) DeleteTimers(_ context.Context, domainID, workflowID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, timer := range p.timers {
		if timer.DomainID == domainID && timer.WorkflowID == workflowID {
			delete(p.timers, key)
		}
	}

	return nil
}

// ClaimDue deletes and returns the earliest due timer under the store lock,
// so concurrent claimers never observe the same record.
func (p *Persistence) ClaimDue(_ context.Context, now time.Time) (*models.WorkflowTimer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		dueKey   string
		dueTimer *models.WorkflowTimer
	)

	for key, timer := range p.timers {
		if !timer.IsDue(now) {
			continue
		}

		if dueTimer == nil || timer.ExecuteAfter.Before(dueTimer.ExecuteAfter) {
			dueKey, dueTimer = key, timer
		}
	}

	if dueTimer == nil {
		return nil, persistence.ErrNoDueTimer
	}

	delete(p.timers, dueKey)

	return cloneTimer(dueTimer), nil
}

func (p *Persistence) DeviceByID(_ context.Context, domainID, deviceID string) (*models.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	device, ok := p.devices[workflowKey(domainID, deviceID)]
	if !ok {
		return nil, persistence.ErrDeviceNotFound
	}

	return cloneDevice(device), nil
}

func (p *Persistence) LookupDevice(_ context.Context, deviceID string) (*models.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, device := range p.devices {
		if device.ID == deviceID {
			return cloneDevice(device), nil
		}
	}

	return nil, persistence.ErrDeviceNotFound
}

func (p *Persistence) SaveDevice(_ context.Context, device *models.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := cloneDevice(device)
	copied.UpdatedAt = time.Now()

	p.devices[workflowKey(device.DomainID, device.ID)] = copied

	return nil
}

func (p *Persistence) SetDeviceProperty(_ context.Context, domainID, deviceID, property string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	device, ok := p.devices[workflowKey(domainID, deviceID)]
	if !ok {
		return persistence.ErrDeviceNotFound
	}

	if device.Properties == nil {
		device.Properties = make(map[string]any)
	}

	device.Properties[property] = value
	device.UpdatedAt = time.Now()

	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func cloneNode(node *models.WorkflowNode) *models.WorkflowNode {
	copied := *node
	copied.Connections = append([]models.Connection(nil), node.Connections...)

	return &copied
}

func cloneTimer(timer *models.WorkflowTimer) *models.WorkflowTimer {
	copied := *timer

	if timer.Interval != nil {
		interval := *timer.Interval
		copied.Interval = &interval
	}

	if timer.TriggerData != nil {
		copied.TriggerData = maps.Clone(timer.TriggerData)
	}

	return &copied
}

func cloneDevice(device *models.Device) *models.Device {
	copied := *device

	if device.Properties != nil {
		copied.Properties = maps.Clone(device.Properties)
	}

	return &copied
}

var _ persistence.Persistence = (*Persistence)(nil)
