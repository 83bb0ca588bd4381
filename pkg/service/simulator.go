package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/google/uuid"
)

const simRunPrefix = "sim-"

// DefaultSimulatedProcessing is how long the simulator pretends a
// long-running workflow (pdf-agent) keeps processing before completing.
const DefaultSimulatedProcessing = 15 * time.Second

type simRun struct {
	workflowID string
	startedAt  time.Time
	pending    bool // still "processing"; final applies once processing elapses
	final      EngineStatus
}

// Simulator is a deterministic offline stand-in for the processing engine.
// Given the same inputs and elapsed time it always fabricates the same
// responses, one behavior per workflow in the registry.
type Simulator struct {
	mu         sync.Mutex
	runs       map[string]simRun
	processing time.Duration
	now        func() time.Time
}

func NewSimulator() *Simulator {
	return &Simulator{
		runs:       make(map[string]simRun),
		processing: DefaultSimulatedProcessing,
		now:        time.Now,
	}
}

// Owns reports whether the given engine run ID was issued by this simulator.
func (s *Simulator) Owns(engineRunID string) bool {
	return strings.HasPrefix(engineRunID, simRunPrefix)
}

func (s *Simulator) Dispatch(_ context.Context, workflowID string, inputs models.JSONMap) (EngineRun, error) {
	runID := simRunPrefix + uuid.NewString()
	run := simRun{workflowID: workflowID, startedAt: s.now()}

	switch workflowID {
	case "email-agent":
		text := stringInput(inputs, "email_text")
		priority := stringInput(inputs, "priority")
		if priority == "" {
			priority = "medium"
		}
		run.final = EngineStatus{
			Status: engineStateCompleted,
			Output: models.JSONMap{
				"sentiment":         analyzeSentiment(text),
				"priority_level":    priority,
				"category":          categorizeEmail(text),
				"suggested_actions": suggestActions(text),
				"confidence":        0.87,
			},
		}
	case "classifier-agent":
		text := stringInput(inputs, "input_text")
		run.final = EngineStatus{
			Status: engineStateCompleted,
			Output: models.JSONMap{
				"content_type": models.JSONMap{"category": "text", "confidence": 0.95},
				"sentiment":    models.JSONMap{"category": analyzeSentiment(text), "confidence": 0.92},
				"intent":       models.JSONMap{"category": classifyIntent(text), "confidence": 0.85},
				"priority":     models.JSONMap{"category": "medium", "confidence": 0.78},
				"language":     models.JSONMap{"code": "en", "confidence": 0.99},
				"topics":       extractTopics(text),
			},
		}
	case "json-agent":
		data := stringInput(inputs, "data")
		if data == "" {
			data = "{}"
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			run.final = EngineStatus{
				Status: engineStateFailed,
				Error:  fmt.Sprintf("JSON parsing failed: %v", err),
			}
		} else {
			run.final = EngineStatus{
				Status: engineStateCompleted,
				Output: models.JSONMap{
					"valid":       true,
					"parsed_data": parsed,
					"schema_analysis": models.JSONMap{
						"total_keys": len(parsed),
						"data_types": analyzeDataTypes(parsed),
					},
				},
			}
		}
	case "pdf-agent":
		// Long-running simulation: stays "running" until the simulated
		// processing time elapses.
		run.pending = true
		run.final = EngineStatus{
			Status: engineStateCompleted,
			Output: pdfOutput(inputs),
		}
	default:
		run.final = EngineStatus{
			Status: engineStateFailed,
			Error:  fmt.Sprintf("unknown workflow: %s", workflowID),
		}
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()
	return EngineRun{RunID: runID}, nil
}

func (s *Simulator) PollStatus(_ context.Context, engineRunID string) (EngineStatus, error) {
	s.mu.Lock()
	run, ok := s.runs[engineRunID]
	s.mu.Unlock()
	if !ok {
		// A run the simulator never saw; report a generic completion.
		return EngineStatus{
			Status: engineStateCompleted,
			Output: models.JSONMap{"run_id": engineRunID, "success": true},
		}, nil
	}
	if run.pending && s.now().Sub(run.startedAt) < s.processing {
		return EngineStatus{Status: engineStateRunning}, nil
	}
	return run.final, nil
}

func (s *Simulator) FetchHistory(_ context.Context, engineRunID string) ([]EngineLog, error) {
	now := s.now()
	return []EngineLog{
		{Timestamp: now, Level: models.InfoLogLevel, Message: fmt.Sprintf("Simulated run %s started", engineRunID), NodeID: "start-node"},
		{Timestamp: now, Level: models.InfoLogLevel, Message: "Processing input data", NodeID: "process-node"},
		{Timestamp: now, Level: models.SuccessLogLevel, Message: "Run completed successfully", NodeID: "end-node"},
	}, nil
}

func stringInput(inputs models.JSONMap, key string) string {
	if inputs == nil {
		return ""
	}
	if v, ok := inputs[key].(string); ok {
		return v
	}
	return ""
}

func analyzeSentiment(text string) string {
	positive := []string{"great", "amazing", "excellent", "good", "fantastic", "wonderful"}
	negative := []string{"bad", "terrible", "awful", "disappointed", "frustrated", "angry"}

	lower := strings.ToLower(text)
	hasPositive := containsAny(lower, positive)
	hasNegative := containsAny(lower, negative)

	if hasPositive && !hasNegative {
		return "positive"
	}
	if hasNegative && !hasPositive {
		return "negative"
	}
	return "neutral"
}

func categorizeEmail(text string) string {
	categories := []struct {
		name     string
		keywords []string
	}{
		{"billing", []string{"billing", "payment", "invoice", "charge", "refund"}},
		{"support", []string{"help", "support", "issue", "problem", "trouble"}},
		{"sales", []string{"purchase", "buy", "price", "cost", "quote"}},
		{"general", []string{"question", "inquiry", "information"}},
	}
	lower := strings.ToLower(text)
	for _, c := range categories {
		if containsAny(lower, c.keywords) {
			return c.name
		}
	}
	return "general"
}

func suggestActions(text string) []string {
	actions := []string{"send_acknowledgment", "forward_to_specialist"}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "urgent") || strings.Contains(lower, "asap") {
		actions = append(actions, "escalate_priority")
	}
	if categorizeEmail(text) == "billing" {
		actions = append(actions, "escalate_to_billing")
	}
	return actions
}

func classifyIntent(text string) string {
	intents := []struct {
		name     string
		keywords []string
	}{
		{"complaint", []string{"disappointed", "terrible", "awful", "bad"}},
		{"inquiry", []string{"question", "how", "what", "when", "where"}},
		{"feedback", []string{"great", "amazing", "excellent", "good"}},
		{"request", []string{"please", "can you", "would you", "need"}},
	}
	lower := strings.ToLower(text)
	for _, i := range intents {
		if containsAny(lower, i.keywords) {
			return i.name
		}
	}
	return "general"
}

func extractTopics(text string) []models.JSONMap {
	var topics []models.JSONMap
	lower := strings.ToLower(text)
	if strings.Contains(lower, "product") || strings.Contains(lower, "quality") {
		topics = append(topics, models.JSONMap{"category": "product_quality", "confidence": 0.89})
	}
	if strings.Contains(lower, "shipping") || strings.Contains(lower, "delivery") {
		topics = append(topics, models.JSONMap{"category": "shipping", "confidence": 0.82})
	}
	if strings.Contains(lower, "service") || strings.Contains(lower, "support") {
		topics = append(topics, models.JSONMap{"category": "customer_service", "confidence": 0.76})
	}
	if len(topics) == 0 {
		topics = append(topics, models.JSONMap{"category": "general", "confidence": 0.65})
	}
	return topics
}

func analyzeDataTypes(obj map[string]interface{}) map[string]string {
	types := make(map[string]string, len(obj))
	for k, v := range obj {
		switch v.(type) {
		case string:
			types[k] = "string"
		case float64:
			types[k] = "number"
		case bool:
			types[k] = "boolean"
		case nil:
			types[k] = "null"
		case []interface{}:
			types[k] = "array"
		default:
			types[k] = "object"
		}
	}
	return types
}

func pdfOutput(inputs models.JSONMap) models.JSONMap {
	tables := 0
	if v, ok := inputs["extract_tables"].(bool); ok && v {
		tables = 3
	}
	return models.JSONMap{
		"summary": models.JSONMap{
			"main_topics": []string{"Financial Performance", "Market Analysis", "Strategic Planning"},
			"key_findings": []string{
				"Revenue increased by 15% compared to previous quarter",
				"Market share expanded in key demographics",
				"Cost optimization initiatives showing positive results",
			},
			"actionable_items": []string{
				"Review budget allocation for Q2",
				"Implement new marketing strategy",
				"Schedule board meeting for strategic review",
			},
		},
		"extracted_data": models.JSONMap{
			"total_pages":  24,
			"tables_found": tables,
			"text_length":  6400,
			"images_count": 5,
		},
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
