package triage

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultAITimeout bounds the completion call so an unresponsive provider
// degrades to the rule-based path instead of hanging the caller.
const DefaultAITimeout = 5 * time.Second

// EngineHooks receives classification events (wired to metrics by main).
type EngineHooks struct {
	OnAICall   func(duration float64, outcome string)
	OnFallback func(reason string)
}

// Engine decides the urgency level for a symptom text: AI first when
// requested, keyword rules otherwise or on any AI failure. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	ai        *AIClassifier
	rules     *RuleClassifier
	aiTimeout time.Duration
	logger    log.Logger
	hooks     EngineHooks
}

// NewEngine creates an engine. ai may be nil, in which case every AI
// request falls back to rules.
func NewEngine(ai *AIClassifier, rules *RuleClassifier, aiTimeout time.Duration, logger log.Logger, hooks EngineHooks) *Engine {
	if rules == nil {
		rules = NewRuleClassifier()
	}
	if aiTimeout <= 0 {
		aiTimeout = DefaultAITimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		ai:        ai,
		rules:     rules,
		aiTimeout: aiTimeout,
		logger:    logger,
		hooks:     hooks,
	}
}

// ClassifyResult is a Classification plus the model that produced it, if any.
type ClassifyResult struct {
	Classification
	Model string
}

// Classify resolves the urgency level. It never fails: AI errors are
// logged and replaced by the rule-based level with Source set to rules.
func (e *Engine) Classify(ctx context.Context, symptoms string, useAI bool) ClassifyResult {
	ctx, span := startSpan(ctx, "triage.Classify")
	defer span.End()
	span.SetAttributes(attribute.Bool("tflow.ai.requested", useAI))

	if !useAI {
		return e.ruleResult(symptoms, "")
	}

	if e.ai == nil {
		e.fallback(ctx, "unavailable", nil)
		return e.ruleResult(symptoms, "unavailable")
	}

	actx, cancel := context.WithTimeout(ctx, e.aiTimeout)
	defer cancel()

	start := time.Now()
	level, model, err := e.ai.Classify(actx, symptoms)
	dur := time.Since(start).Seconds()

	if err != nil {
		reason := "error"
		var se *ServiceError
		if errors.As(err, &se) {
			reason = se.Reason
		}
		if e.hooks.OnAICall != nil {
			e.hooks.OnAICall(dur, reason)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "ai classification failed")
		e.fallback(ctx, reason, err)
		return e.ruleResult(symptoms, reason)
	}

	if e.hooks.OnAICall != nil {
		e.hooks.OnAICall(dur, "ok")
	}
	span.SetAttributes(
		attribute.String("tflow.level", string(level)),
		attribute.String("tflow.source", string(SourceAI)),
	)
	return ClassifyResult{
		Classification: Classification{Level: level, Source: SourceAI},
		Model:          model,
	}
}

func (e *Engine) ruleResult(symptoms, reason string) ClassifyResult {
	return ClassifyResult{Classification: Classification{
		Level:          e.rules.Classify(symptoms),
		Source:         SourceRules,
		FallbackReason: reason,
	}}
}

func (e *Engine) fallback(ctx context.Context, reason string, err error) {
	if e.hooks.OnFallback != nil {
		e.hooks.OnFallback(reason)
	}
	if err != nil {
		e.logger.Warn(ctx, "ai classification failed, using rule-based fallback", "reason", reason, "error", err)
		return
	}
	e.logger.Warn(ctx, "ai classifier not configured, using rule-based fallback")
}
