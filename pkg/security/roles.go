package security

// Role names.
const (
	RoleAdmin        = "admin"
	RoleOrchestrator = "orchestrator"
	RoleSubmitter    = "submitter"
	RoleObserver     = "observer"

	// RoleCrossTenantAdmin exempts an identity from tenant isolation.
	// It does not grant any operation by itself.
	RoleCrossTenantAdmin = "cross_tenant_admin"
)

// opSpec is one entry in the static operation table.
type opSpec struct {
	roles    []string
	mutating bool
}

// operations is the closed operation → required-role table. An
// operation absent from the table is denied for everyone.
var operations = map[string]opSpec{
	"agent.register":              {roles: []string{RoleAdmin, RoleOrchestrator}, mutating: true},
	"agent.unregister":            {roles: []string{RoleAdmin, RoleOrchestrator}, mutating: true},
	"agent.get":                   {roles: []string{RoleAdmin, RoleOrchestrator, RoleSubmitter, RoleObserver}},
	"agent.query":                 {roles: []string{RoleAdmin, RoleOrchestrator, RoleSubmitter, RoleObserver}},
	"agent.update_performance":    {roles: []string{RoleAdmin, RoleOrchestrator}, mutating: true},
	"agent.update_load":           {roles: []string{RoleAdmin, RoleOrchestrator}, mutating: true},
	"agent.update_specialization": {roles: []string{RoleAdmin, RoleOrchestrator}, mutating: true},
	"registry.stats":              {roles: []string{RoleAdmin, RoleOrchestrator, RoleSubmitter, RoleObserver}},

	"task.get":      {roles: []string{RoleAdmin, RoleOrchestrator, RoleSubmitter, RoleObserver}},
	"task.submit":   {roles: []string{RoleSubmitter, RoleAdmin}, mutating: true},
	"task.cancel":   {roles: []string{RoleSubmitter, RoleAdmin}, mutating: true},
	"task.ack":      {roles: []string{RoleOrchestrator, RoleAdmin}, mutating: true},
	"task.progress": {roles: []string{RoleOrchestrator, RoleAdmin}, mutating: true},
	"task.submit_artifacts": {roles: []string{RoleOrchestrator, RoleAdmin},
		mutating: true},

	"queue.clear":        {roles: []string{RoleAdmin}, mutating: true},
	"orchestrator.start": {roles: []string{RoleAdmin}, mutating: true},
	"orchestrator.stop":  {roles: []string{RoleAdmin}, mutating: true},
}
