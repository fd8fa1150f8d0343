package loader

import (
	"encoding/json"
	"fmt"
	"time"
)

// Definitions is the decoded form of a definitions file.
type Definitions struct {
	// Root names the main behavior.
	Root       string         `json:"root"`
	Behaviors  []BehaviorDef  `json:"behaviors"`
	Reactions  []ReactionDef  `json:"reactions,omitempty"`
	Actions    []ActionDef    `json:"actions,omitempty"`
	Blackboard map[string]any `json:"blackboard,omitempty"`
}

// BehaviorDef declares one node. Which fields apply depends on Type.
type BehaviorDef struct {
	ID   string `json:"behaviorID"`
	Type string `json:"type"`
	// Strategy gates the node wherever it is used.
	Strategy *StrategyDef `json:"strategy,omitempty"`

	// activity
	Policy   string      `json:"policy,omitempty"`
	Children []ChildDef  `json:"children,omitempty"`
	Options  *OptionsDef `json:"options,omitempty"`

	// sequence
	Steps []string `json:"steps,omitempty"`
	Loop  bool     `json:"loop,omitempty"`

	// wait
	Duration Duration `json:"duration,omitempty"`

	// emit
	Tag     string         `json:"tag,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`

	// plan
	Goal [][]CondDef `json:"goal,omitempty"`
}

// ChildDef is one option of an activity.
type ChildDef struct {
	Behavior string       `json:"behavior"`
	Priority int          `json:"priority"`
	Score    float64      `json:"score,omitempty"`
	Strategy *StrategyDef `json:"strategy,omitempty"`
}

// OptionsDef tunes scored and external activities.
type OptionsDef struct {
	RunningBonus      float64  `json:"runningBonus,omitempty"`
	HalfLife          Duration `json:"halfLife,omitempty"`
	Jitter            float64  `json:"jitter,omitempty"`
	RepetitionWindow  Duration `json:"repetitionWindow,omitempty"`
	RepetitionPenalty float64  `json:"repetitionPenalty,omitempty"`
	Idle              string   `json:"idle,omitempty"`
}

// StrategyDef configures a strategy. Each use builds a fresh instance.
type StrategyDef struct {
	Type string `json:"type"`

	// timer
	After Duration `json:"after,omitempty"`
	// need
	Need     string   `json:"need,omitempty"`
	Brackets []string `json:"brackets,omitempty"`
	// latched
	Family string   `json:"family,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	// expr
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	// all, any
	Of []StrategyDef `json:"of,omitempty"`

	Cooldown *CooldownDef `json:"cooldown,omitempty"`
}

// CooldownDef wraps a strategy in a cooldown.
type CooldownDef struct {
	Base            Duration `json:"base"`
	Jitter          Duration `json:"jitter,omitempty"`
	StartInCooldown bool     `json:"startInCooldown,omitempty"`
}

// ReactionDef configures one reaction trigger.
type ReactionDef struct {
	Trigger           *int         `json:"trigger"`
	Name              string       `json:"name,omitempty"`
	Behavior          string       `json:"behavior"`
	Strategy          *StrategyDef `json:"strategy"`
	Resume            bool         `json:"resume,omitempty"`
	CanInterruptOther bool         `json:"canInterruptOther,omitempty"`
	CanInterruptSelf  bool         `json:"canInterruptSelf,omitempty"`
}

// ActionDef declares a planner action.
type ActionDef struct {
	Name     string         `json:"name"`
	Pre      [][]CondDef    `json:"pre,omitempty"`
	Effects  map[string]any `json:"effects"`
	Duration int            `json:"duration,omitempty"`
}

// CondDef is a blackboard condition: either Equals or a Match expression
// over value.
type CondDef struct {
	Key    string `json:"key"`
	Equals any    `json:"equals,omitempty"`
	Match  string `json:"match,omitempty"`
}

// Duration decodes from a Go duration string such as "1.5s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
