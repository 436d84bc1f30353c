package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Phases a product, stack, note or question can be tagged with.
var Phases = []string{"All", "Discover", "Validate", "Design", "Build", "Secure", "Launch", "Grow"}

// Status values shared by collections and documents.
const (
	StatusUploading  = "uploading"
	StatusUploaded   = "uploaded"
	StatusIndexing   = "indexing"
	StatusIndexed    = "indexed"
	StatusReindexing = "reindexing"
)

type Product struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Name         string    `json:"name" validate:"required,max=100"`
	Description  string    `json:"description"`
	Phases       []string  `json:"phases" validate:"dive,phase"`
	Problem      string    `json:"problem"`
	Team         string    `json:"team"`
	Website      string    `json:"website" validate:"omitempty,url"`
	Country      string    `json:"country"`
	TemplateID   string    `json:"template_id"`
	TemplateType string    `json:"template_type"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type TechStack struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"userId"`
	ProductID          string    `json:"productId" validate:"required"`
	Name               string    `json:"name" validate:"required,max=100"`
	Description        string    `json:"description" validate:"required"`
	AppType            string    `json:"appType"`
	FrontEndStack      string    `json:"frontEndStack"`
	BackEndStack       string    `json:"backEndStack"`
	DatabaseStack      string    `json:"databaseStack"`
	AIAgentStack       []string  `json:"aiAgentStack"`
	Integrations       []string  `json:"integrations"`
	DeploymentStack    string    `json:"deploymentStack"`
	Tags               []string  `json:"tags"`
	Phases             []string  `json:"phases" validate:"dive,phase"`
	Prompt             string    `json:"prompt"`
	DocumentationLinks []string  `json:"documentationLinks" validate:"dive,url"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ProductID string    `json:"productId"`
	NoteBody  string    `json:"note_body" validate:"required"`
	Phases    []string  `json:"phases" validate:"dive,phase"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Question struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ProductID string    `json:"productId"`
	Question  string    `json:"question" validate:"required"`
	Answer    *string   `json:"answer"`
	Phases    []string  `json:"phases" validate:"dive,phase"`
	Tags      []string  `json:"tags"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Agent status values.
const (
	AgentEnabled     = "enabled"
	AgentDisabled    = "disabled"
	AgentConfiguring = "configuring"
)

type Agent struct {
	ID            string             `json:"id"`
	UserID        string             `json:"userId"`
	ProductID     string             `json:"productId" validate:"required"`
	Name          string             `json:"name" validate:"required,max=100"`
	Description   string             `json:"description" validate:"required"`
	SystemPrompt  string             `json:"systemPrompt"`
	Phases        []string           `json:"phases" validate:"dive,phase"`
	Tags          []string           `json:"tags"`
	Collections   []string           `json:"collections"`
	Tools         []string           `json:"tools"`
	MCPEndpoints  []string           `json:"mcpEndpoints"`
	A2AEndpoints  []string           `json:"a2aEndpoints"`
	Status        string             `json:"status" validate:"omitempty,oneof=enabled disabled configuring"`
	Configuration AgentConfiguration `json:"configuration"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

type AgentConfiguration struct {
	URL                string    `json:"url,omitempty" validate:"omitempty,url"`
	APIKey             string    `json:"apiKey,omitempty"`
	AuthType           string    `json:"authType,omitempty" validate:"omitempty,oneof=bearer apikey none"`
	ResponseType       string    `json:"responseType,omitempty" validate:"omitempty,oneof=streaming single"`
	RateLimitPerMinute int       `json:"rateLimitPerMinute" validate:"ratelimit"`
	AllowedIPs         []string  `json:"allowedIps,omitempty" validate:"dive,ip"`
	IsEnabled          bool      `json:"isEnabled"`
	A2AOAuth           *A2AOAuth `json:"a2aOAuth,omitempty"`
}

type A2AOAuth struct {
	ClientID     string   `json:"clientId" validate:"required"`
	ClientSecret string   `json:"clientSecret" validate:"required"`
	RedirectURIs []string `json:"redirectUris,omitempty" validate:"dive,url"`
}

// HasCollections reports whether the agent has any knowledge collections attached.
func (a Agent) HasCollections() bool { return len(a.Collections) > 0 }

// DefaultAgentConfiguration returns the configuration a new agent starts with.
func DefaultAgentConfiguration() AgentConfiguration {
	return AgentConfiguration{
		AuthType:           "bearer",
		ResponseType:       "streaming",
		RateLimitPerMinute: 60,
		IsEnabled:          true,
	}
}

// Tool test status values.
const (
	TestSuccess = "success"
	TestError   = "error"
	TestPending = "pending"
	TestNever   = "never"
)

type ToolConfig struct {
	UserID      string            `json:"userId"`
	ToolID      string            `json:"toolId" validate:"required"`
	IsEnabled   bool              `json:"isEnabled"`
	APIKey      string            `json:"apiKey,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	TestStatus  string            `json:"testStatus"`
	TestMessage string            `json:"testMessage,omitempty"`
	LastTested  *time.Time        `json:"lastTested,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type Collection struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ProductID   string    `json:"productId"`
	Title       string    `json:"title" validate:"required,max=100"`
	Description string    `json:"description"`
	PhaseTags   []string  `json:"phaseTags" validate:"dive,phase"`
	Tags        []string  `json:"tags"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Document struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	CollectionID string    `json:"collectionId" validate:"required"`
	ProductID    string    `json:"productId"`
	Title        string    `json:"title" validate:"required,max=100"`
	Description  string    `json:"description"`
	URL          string    `json:"url"`
	FilePath     string    `json:"filePath"`
	Tags         []string  `json:"tags"`
	Keywords     []string  `json:"keywords"`
	Status       string    `json:"status"`
	ChunkSize    int       `json:"chunkSize" validate:"omitempty,min=100,max=10000"`
	Overlap      int       `json:"overlap" validate:"omitempty,ltfield=ChunkSize"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Chunk is one indexed window of a document's text.
type Chunk struct {
	ID            string
	UserID        string
	CollectionID  string
	DocumentID    string
	ChunkIndex    int
	TotalChunks   int
	Content       string
	Keywords      []string
	Embedding     []float32
	DocumentTitle string
	Filename      string
	FileURL       string
}

// CollectionEndpoint exposes one collection as an authenticated search endpoint.
type CollectionEndpoint struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	CollectionID    string          `json:"collectionId"`
	Name            string          `json:"name" validate:"required,max=100"`
	Description     string          `json:"description"`
	IsEnabled       bool            `json:"isEnabled"`
	AuthType        string          `json:"authType" validate:"required,oneof=none api_key bearer"`
	AuthCredentials AuthCredentials `json:"authCredentials"`
	AccessControl   AccessControl   `json:"accessControl"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type AuthCredentials struct {
	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`
}

type AccessControl struct {
	RateLimitPerMinute int      `json:"rateLimitPerMinute" validate:"min=0,max=1000"`
	AllowedOrigins     []string `json:"allowedOrigins,omitempty"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
