package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"clubtreasurer/internal/domain"
)

// FileName is the config file looked up in a workspace.
const FileName = "treasurer.yml"

// Config models treasurer.yml.
type Config struct {
	Org   Org `yaml:"org"`
	Codes struct {
		Path string `yaml:"path"`
	} `yaml:"codes"`
	Rules        Rules              `yaml:"rules"`
	Conversation ConversationConfig `yaml:"conversation"`
	LLM          LLMConfig          `yaml:"llm"`
	Webhooks     []WebhookConfig    `yaml:"webhooks"`
}

// Org carries the organisation defaults pre-filled into every session.
type Org struct {
	ClubName     string `yaml:"club_name"`
	ContactEmail string `yaml:"contact_email"`
	Currency     string `yaml:"currency"`
	Location     string `yaml:"location"`
	PaymentType  string `yaml:"payment_type"`
	InvoiceType  string `yaml:"invoice_type"`
}

// RuleSet holds the numeric policy for one form type. A threshold or cap of
// zero disables that check.
type RuleSet struct {
	PreApprovalThreshold float64 `yaml:"pre_approval_threshold"`
	PerHeadCap           float64 `yaml:"per_head_cap"`
	RequireValidCode     bool    `yaml:"require_valid_code"`
}

type Rules struct {
	SupplierPayment      RuleSet `yaml:"supplier_payment"`
	InternalTransfer     RuleSet `yaml:"internal_transfer"`
	ExpenseReimbursement RuleSet `yaml:"expense_reimbursement"`
	RefundRequest        RuleSet `yaml:"refund_request"`
}

// For returns the rule set of a form type.
func (r Rules) For(ft domain.FormType) (RuleSet, bool) {
	switch ft {
	case domain.SupplierPayment:
		return r.SupplierPayment, true
	case domain.InternalTransfer:
		return r.InternalTransfer, true
	case domain.ExpenseReimbursement:
		return r.ExpenseReimbursement, true
	case domain.RefundRequest:
		return r.RefundRequest, true
	}
	return RuleSet{}, false
}

type ConversationConfig struct {
	ClassifyThreshold float64 `yaml:"classify_threshold"`
	SessionTTLMinutes int     `yaml:"session_ttl_minutes"`
}

type LLMConfig struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with treasurer config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Org.ContactEmail) == "" {
		return fmt.Errorf("config.org.contact_email is required")
	}
	if !strings.Contains(c.Org.ContactEmail, "@") {
		return fmt.Errorf("config.org.contact_email %q is not an email address", c.Org.ContactEmail)
	}
	for _, ft := range domain.FormTypes {
		rs, _ := c.Rules.For(ft)
		if rs.PreApprovalThreshold < 0 {
			return fmt.Errorf("rules.%s.pre_approval_threshold must not be negative", ft)
		}
		if rs.PerHeadCap < 0 {
			return fmt.Errorf("rules.%s.per_head_cap must not be negative", ft)
		}
	}
	if t := c.Conversation.ClassifyThreshold; t < 0 || t >= 1 {
		return fmt.Errorf("conversation.classify_threshold must be in [0,1), got %v", t)
	}
	if c.Conversation.SessionTTLMinutes < 0 {
		return fmt.Errorf("conversation.session_ttl_minutes must not be negative")
	}
	switch c.LLM.Provider {
	case "openai", "offline":
	default:
		return fmt.Errorf("llm.provider must be 'openai' or 'offline', got %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "openai" && strings.TrimSpace(c.LLM.Model) == "" {
		return fmt.Errorf("llm.model is required for the openai provider")
	}
	if c.LLM.TimeoutSeconds < 0 {
		return fmt.Errorf("llm.timeout_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// CodesPath resolves the code directory path against the workspace.
func (c *Config) CodesPath(workspace string) string {
	p := c.Codes.Path
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `org:
  club_name: Data and AI Club
  contact_email: treasurer@example.org
  currency: GBP
  location: London
  payment_type: Cash
  invoice_type: Final Invoice

codes:
  path: event_codes.csv

rules:
  supplier_payment:
    pre_approval_threshold: 8000
    require_valid_code: true
  internal_transfer:
    require_valid_code: true
  expense_reimbursement:
    pre_approval_threshold: 1000
    per_head_cap: 45
    require_valid_code: true
  refund_request:
    require_valid_code: true

conversation:
  classify_threshold: 0.7
  session_ttl_minutes: 60

llm:
  provider: openai
  model: gpt-4.1-mini
  base_url: ""
  timeout_seconds: 20

webhooks: []
`
