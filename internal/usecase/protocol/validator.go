// Package protocol validates inter-agent message envelopes and builds new ones.
package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
)

//go:embed schema.json
var envelopeSchema []byte

const opValidate = "Protocol.Validate"

// Validator checks messages structurally against the envelope JSON Schema
// and then applies semantic rules the schema cannot express.
type Validator struct {
	schema *jsonschema.Schema // nil when schema validation is disabled
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*validatorOptions)

type validatorOptions struct {
	skipSchema bool
}

// WithoutSchema disables the JSON Schema pass; semantic rules still apply.
func WithoutSchema() ValidatorOption {
	return func(o *validatorOptions) { o.skipSchema = true }
}

// NewValidator compiles the embedded envelope schema.
func NewValidator(opts ...ValidatorOption) (*Validator, error) {
	var o validatorOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.skipSchema {
		return &Validator{}, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("schema.json", bytes.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("add envelope schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns an error wrapping domain.ErrInvalidInput when msg is malformed.
func (v *Validator) Validate(msg domain.AgentMessage) error {
	if v.schema != nil {
		if err := v.validateSchema(msg); err != nil {
			return err
		}
	}
	if issues := semanticIssues(msg); len(issues) > 0 {
		return invalid(strings.Join(issues, "; "))
	}
	return nil
}

func (v *Validator) validateSchema(msg domain.AgentMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return invalid("encode message: " + err.Error())
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return invalid("decode message: " + err.Error())
	}
	if err := v.schema.Validate(doc); err != nil {
		return invalid(schemaDetail(err))
	}
	return nil
}

// schemaDetail flattens a schema error into its leaf causes.
func schemaDetail(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return "schema: " + strings.Join(leaves, "; ")
}

func semanticIssues(msg domain.AgentMessage) []string {
	var issues []string
	if msg.ID == "" {
		issues = append(issues, "id is required")
	}
	if msg.FromAgentID == "" {
		issues = append(issues, "from_agent_id is required")
	}
	if msg.ChannelID == "" {
		issues = append(issues, "channel_id is required")
	}
	if !slices.Contains(domain.MessageTypes, msg.Type) {
		issues = append(issues, fmt.Sprintf("unknown message type %q", msg.Type))
	}
	if !slices.Contains(domain.MessagePriorities, msg.Priority) {
		issues = append(issues, fmt.Sprintf("unknown priority %q", msg.Priority))
	}
	if msg.Timestamp.IsZero() {
		issues = append(issues, "timestamp is required")
	}
	if msg.Type == domain.MessageTypeBroadcast && msg.ToAgentID != "" {
		issues = append(issues, "broadcast message must not set to_agent_id")
	}
	if msg.Type == domain.MessageTypeResponse && msg.ReplyToMessageID == "" {
		issues = append(issues, "response message requires reply_to_message_id")
	}
	if msg.ToAgentID != "" && msg.ToAgentID == msg.FromAgentID {
		issues = append(issues, "sender and recipient must differ")
	}
	if msg.ExpiresAt != nil && msg.ExpiresAt.Before(msg.Timestamp) {
		issues = append(issues, "expires_at precedes timestamp")
	}
	return issues
}

func invalid(detail string) error {
	return domain.NewSubSystemError(domain.SubSystemProtocol, opValidate, domain.ErrInvalidInput, detail)
}

// IsExpired reports whether msg carries an expiry at or before now.
func IsExpired(msg domain.AgentMessage, now time.Time) bool {
	return msg.ExpiresAt != nil && !now.Before(*msg.ExpiresAt)
}

// CheckExpiry returns an error wrapping domain.ErrMessageExpired for expired messages.
func CheckExpiry(msg domain.AgentMessage, now time.Time) error {
	if !IsExpired(msg, now) {
		return nil
	}
	return domain.NewSubSystemError(domain.SubSystemProtocol, "Protocol.CheckExpiry", domain.ErrMessageExpired,
		fmt.Sprintf("message %s expired at %s", msg.ID, msg.ExpiresAt.Format(time.RFC3339)))
}
