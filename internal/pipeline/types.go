// Package pipeline routes a user question through assessment, tool
// selection and execution, response formatting, and a final quality
// gate. One Pipeline run handles one request end to end.
package pipeline

import (
	"context"
	"time"

	"github.com/aria-assistant/aria/internal/capability"
	"github.com/aria-assistant/aria/internal/inference"
	"github.com/aria-assistant/aria/internal/models"
	"github.com/aria-assistant/aria/internal/window"
)

// Phase identifies one stage of the pipeline.
type Phase string

const (
	PhaseAssessment    Phase = "assessment"
	PhaseToolSelection Phase = "tool_selection"
	PhaseToolExecution Phase = "tool_execution"
	PhaseFormatting    Phase = "formatting"
	PhaseQualityGate   Phase = "quality_gate"
	PhaseDone          Phase = "done"
)

// RouteKind is the closed set of assessment outcomes.
type RouteKind int

const (
	RouteDirect RouteKind = iota
	RouteToolsNeeded
	RouteCapabilityGuard
)

func (k RouteKind) String() string {
	switch k {
	case RouteToolsNeeded:
		return "tools_needed"
	case RouteCapabilityGuard:
		return "capability_guard"
	default:
		return "direct"
	}
}

// GuardReason classifies why a question was routed to the guard path.
type GuardReason string

const (
	GuardIdentity     GuardReason = "identity"
	GuardCapabilities GuardReason = "capabilities"
	GuardTemporal     GuardReason = "temporal"
	GuardSecurity     GuardReason = "security"
	GuardMixed        GuardReason = "mixed"
)

// AssessmentResult is the outcome of the first phase. GuardReason is
// meaningful only when Kind is RouteCapabilityGuard.
type AssessmentResult struct {
	Kind         RouteKind
	GuardReason  GuardReason
	ToolsNeeded  []string
	DirectAnswer string
	ToolQuery    string
}

// Fallback categories the quality gate can substitute.
const (
	FallbackSafety       = "safety_refusal"
	FallbackIdentity     = "identity"
	FallbackToolFailure  = "tool_failure"
	FallbackRephrase     = "rephrase"
	FallbackIncomplete   = "incomplete"
	FallbackCapabilities = "capabilities"
)

// QualityResult is the quality gate verdict. Response is always
// non-empty: either the approved candidate or the substituted fallback.
type QualityResult struct {
	Approved     bool
	FallbackKind string
	Response     string
	Reasoning    string
}

// ProcessingContext carries one request through the phases. It is
// owned by a single goroutine and needs no synchronization.
type ProcessingContext struct {
	RequestID      string
	UserID         string
	ConversationID string
	Question       string
	Window         *window.ContextWindow
	Phase          Phase
	Assessment     *AssessmentResult
	SelectedTools  []capability.Definition
	ToolResults    []models.ToolInvocationResult
	Candidate      string
	Quality        *QualityResult
}

// ProcessResult is what the outer surface receives.
type ProcessResult struct {
	Response       string
	Topic          string
	ConversationID string
	History        []models.ChatMessage
	ProcessingTime time.Duration
}

// Inference is the slice of the inference client the pipeline uses.
type Inference interface {
	Chat(ctx context.Context, messages []models.ChatMessage, tools []inference.Tool) (*inference.ChatResult, error)
	GenerateSync(ctx context.Context, prompt string) (*inference.Result, error)
}

// Registry is the slice of the capability registry the pipeline uses.
type Registry interface {
	Catalog() map[string][]capability.Definition
	Definitions(names []string) []capability.Definition
	Lookup(name string) (capability.Definition, error)
	Invoke(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// ContextBuilder supplies the bounded conversation context.
type ContextBuilder interface {
	BuildContext(ctx context.Context, userID, convID string) (*window.ContextWindow, error)
}

// Persister stores the finished interaction and the audit record.
type Persister interface {
	SaveInteraction(ctx context.Context, userID, convID, title, question, response string) error
}

// CompactionTrigger dispatches the post-save compaction check.
type CompactionTrigger interface {
	TriggerIfNeeded(ctx context.Context, userID, convID string)
}
