package core

import (
	"context"
	"time"
)

// Actuator is one job's handle on the external editor page. Every call is an
// opaque, possibly-failing operation; the orchestration core never inspects
// page state beyond these outcomes. Targets are logical names resolved by
// the driver, not raw selectors.
type Actuator interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Click(ctx context.Context, target string) error
	Type(ctx context.Context, target, text string) error
	Press(ctx context.Context, target, key string) error
	WaitFor(ctx context.Context, target string, timeout time.Duration) error
	ReadText(ctx context.Context, target string) (string, error)
	Screenshot(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Session is the shared browser-automation session. Each job owns exactly
// one page created through it and must not touch another job's page.
// Session and page creation are serialized through the scheduler's startup
// path.
type Session interface {
	NewPage(ctx context.Context) (Actuator, error)
	Close(ctx context.Context) error
}

// ContentSource delivers the scene rows for a collection.
type ContentSource interface {
	GetUnits(ctx context.Context, collection string) ([]Unit, error)
}

// NotificationSink receives fire-and-forget summaries. Failures are logged
// by callers and never block job progress.
type NotificationSink interface {
	Send(ctx context.Context, summary string) error
}

// StepPhase marks the boundary a step event reports.
type StepPhase string

const (
	StepPhaseStart  StepPhase = "start"
	StepPhaseFinish StepPhase = "finish"
)

// StepUnit is the granularity of a step event.
type StepUnit string

const (
	StepUnitPart  StepUnit = "part"
	StepUnitScene StepUnit = "scene"
	StepUnitBroll StepUnit = "broll"
)

// StepEvent is one step start/completion notification published by the
// orchestration core.
type StepEvent struct {
	Key   JobKey    `json:"key"`
	Phase StepPhase `json:"phase"`
	Unit  StepUnit  `json:"unit"`
	Scene int       `json:"scene,omitempty"`
	OK    bool      `json:"ok"`
	Stage string    `json:"stage,omitempty"`
	At    time.Time `json:"at"`
}

// EventSink is the interface the core publishes to. The core has no
// compile-time dependency on what consumers do with these events.
type EventSink interface {
	OnStep(ev StepEvent)
	OnNotice(message string)
}

// NopEventSink discards everything.
type NopEventSink struct{}

func (NopEventSink) OnStep(StepEvent) {}
func (NopEventSink) OnNotice(string)  {}
