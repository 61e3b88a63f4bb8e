package provision

// Step statuses. A step moves pending → running → completed on the success
// path, or running → failed, which halts the run.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// Overall provisioning statuses for a node.
const (
	StatusPending      = "pending"
	StatusProvisioning = "provisioning"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// Step is one unit of remote setup work. Commands are joined and executed as
// a single shell invocation; Validate, when set, is a post-check whose
// non-zero exit fails the step.
type Step struct {
	ID       string
	Name     string
	Commands []string
	Validate string
}

// StepResult is the per-run state of one step.
type StepResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
}

// StepConfig parameterizes the default step list.
type StepConfig struct {
	AgentDownloadURL string
	ControlPlaneURL  string
}

// DefaultSteps is the standard bring-up sequence for a fresh worker node.
func DefaultSteps(cfg StepConfig) []Step {
	return []Step{
		{
			ID:   "prerequisites",
			Name: "Install prerequisites",
			Commands: []string{
				"export DEBIAN_FRONTEND=noninteractive",
				"apt-get update -q",
				"apt-get install -yq curl iptables iproute2",
			},
			Validate: "command -v curl",
		},
		{
			ID:   "kernel",
			Name: "Configure kernel parameters",
			Commands: []string{
				"sysctl -w net.ipv4.ip_forward=1",
				"echo net.ipv4.ip_forward=1 > /etc/sysctl.d/99-atlas.conf",
			},
			Validate: "test $(cat /proc/sys/net/ipv4/ip_forward) -eq 1",
		},
		{
			ID:   "agent-install",
			Name: "Install node agent",
			Commands: []string{
				"curl -fsSL -o /usr/local/bin/atlas-node " + cfg.AgentDownloadURL,
				"chmod +x /usr/local/bin/atlas-node",
			},
			Validate: "test -x /usr/local/bin/atlas-node",
		},
		{
			ID:   "agent-start",
			Name: "Start node agent",
			Commands: []string{
				"mkdir -p /etc/atlas",
				"echo CONTROL_PLANE_URL=" + cfg.ControlPlaneURL + " > /etc/atlas/node.env",
				"systemctl enable --now atlas-node",
			},
			Validate: "systemctl is-active atlas-node",
		},
	}
}
