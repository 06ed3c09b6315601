package imago

import (
	"fmt"
	"strings"
	"time"

	"github.com/sre-norns/imago/pkg/wyrd"
)

const (
	KindSearch   wyrd.Kind = "search"
	KindBatch    wyrd.Kind = "batch"
	KindArtifact wyrd.Kind = "artifact"
)

const (
	MinSearchLimit     = 1
	MaxSearchLimit     = 50
	DefaultSearchLimit = 10

	DefaultProvider = "google"
	DefaultFormat   = "jpg"
)

func init() {
	_ = wyrd.RegisterKind(KindSearch, &SearchSpec{})
	_ = wyrd.RegisterKind(KindBatch, &BatchSpec{})
	_ = wyrd.RegisterKind(KindArtifact, &ArtifactSpec{})
}

// AspectRatio of the processed images
type AspectRatio string

const (
	AspectLandscape AspectRatio = "16:9"
	AspectPortrait  AspectRatio = "9:16"
)

var aspectDimensions = map[AspectRatio][2]int{
	AspectLandscape: {1920, 1080},
	AspectPortrait:  {1080, 1920},
}

// Dimensions returns target width and height in pixels for the aspect ratio
func (a AspectRatio) Dimensions() (width, height int, err error) {
	dims, ok := aspectDimensions[a]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q, expected one of %q or %q", ErrUnknownAspect, a, AspectLandscape, AspectPortrait)
	}

	return dims[0], dims[1], nil
}

// Orientation names the aspect ratio in a form usable as a label value
func (a AspectRatio) Orientation() string {
	switch a {
	case AspectLandscape:
		return "landscape"
	case AspectPortrait:
		return "portrait"
	}
	return "unknown"
}

//------------------------------
// Search
//------------------------------

type SearchSpec struct {
	// Text query to search images for
	Query string `form:"query" json:"query" yaml:"query" xml:"query"`

	// Maximum number of candidates to return
	Limit int `form:"limit,omitempty" json:"limit,omitempty" yaml:"limit,omitempty" xml:"limit,omitempty"`

	// Name of a registered search provider
	Provider string `form:"provider,omitempty" json:"provider,omitempty" yaml:"provider,omitempty" xml:"provider,omitempty"`

	// Preferred image file format
	Format string `form:"format,omitempty" json:"format,omitempty" yaml:"format,omitempty" xml:"format,omitempty"`
}

// Validate fills in defaults and checks the spec
func (s *SearchSpec) Validate() error {
	s.Query = strings.TrimSpace(s.Query)
	if s.Query == "" {
		return ErrEmptyQuery
	}

	if s.Limit == 0 {
		s.Limit = DefaultSearchLimit
	}
	if s.Limit < MinSearchLimit || s.Limit > MaxSearchLimit {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, s.Limit)
	}

	if s.Provider == "" {
		s.Provider = DefaultProvider
	}
	if s.Format == "" {
		s.Format = DefaultFormat
	}

	return nil
}

type SearchState string

const (
	SearchFound SearchState = "found"
	SearchEmpty SearchState = "empty"
)

// Candidate is a single image found by a search
type Candidate struct {
	Position int    `form:"position" json:"position" yaml:"position" xml:"position"`
	URL      string `form:"url" json:"url" yaml:"url" xml:"url"`
}

type SearchStatus struct {
	State           SearchState `form:"state" json:"state" yaml:"state" xml:"state"`
	Candidates      []Candidate `gorm:"serializer:json" form:"candidates" json:"candidates" yaml:"candidates" xml:"candidates>candidate"`
	Warnings        []string    `gorm:"serializer:json" form:"warnings,omitempty" json:"warnings,omitempty" yaml:"warnings,omitempty" xml:"warnings>warning,omitempty"`
	ProviderVersion string      `form:"providerVersion,omitempty" json:"providerVersion,omitempty" yaml:"providerVersion,omitempty" xml:"providerVersion,omitempty"`
}

type Search struct {
	ResourceMeta `json:"metadata" yaml:"metadata" xml:"metadata"`

	Spec   SearchSpec   `gorm:"embedded;embeddedPrefix:spec_" json:"spec" yaml:"spec" xml:"spec"`
	Status SearchStatus `gorm:"embedded;embeddedPrefix:status_" json:"status" yaml:"status" xml:"status"`
}

// URLs returns candidate urls in search order
func (s Search) URLs() []string {
	result := make([]string, 0, len(s.Status.Candidates))
	for _, c := range s.Status.Candidates {
		result = append(result, c.URL)
	}
	return result
}

//------------------------------
// Batch
//------------------------------

type BatchSpec struct {
	// Image URLs to process
	Images []string `gorm:"serializer:json" form:"images,omitempty" json:"images,omitempty" yaml:"images,omitempty" xml:"images>image,omitempty"`

	// Search to select candidates from
	SearchID wyrd.ResourceID `form:"searchId,omitempty" json:"searchId,omitempty" yaml:"searchId,omitempty" xml:"searchId,omitempty"`

	// Zero-based positions of the search candidates to process
	Select []int `gorm:"serializer:json" form:"select,omitempty" json:"select,omitempty" yaml:"select,omitempty" xml:"select,omitempty"`

	Aspect AspectRatio `form:"aspect,omitempty" json:"aspect,omitempty" yaml:"aspect,omitempty" xml:"aspect,omitempty"`

	// Sharpen processed images, true when not set
	Enhance *bool `form:"enhance,omitempty" json:"enhance,omitempty" yaml:"enhance,omitempty" xml:"enhance,omitempty"`
}

func (s BatchSpec) IsEnhanced() bool {
	return s.Enhance == nil || *s.Enhance
}

// Validate fills in defaults and checks the spec, not including search selection
func (s *BatchSpec) Validate() error {
	if s.Aspect == "" {
		s.Aspect = AspectLandscape
	}
	if _, _, err := s.Aspect.Dimensions(); err != nil {
		return err
	}

	if len(s.Images) == 0 && (s.SearchID == wyrd.InvalidResourceID || len(s.Select) == 0) {
		return ErrNoImages
	}
	if len(s.Select) != 0 && s.SearchID == wyrd.InvalidResourceID {
		return fmt.Errorf("%w: selection requires a searchId", ErrInvalidSelection)
	}

	for _, u := range s.Images {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%w: %q", ErrInvalidImageURL, u)
		}
	}

	return nil
}

// ResolveImages returns the image urls of the batch: explicit images first, then selected candidates
func (s BatchSpec) ResolveImages(search *Search) ([]string, error) {
	result := make([]string, 0, len(s.Images)+len(s.Select))
	result = append(result, s.Images...)

	if len(s.Select) == 0 {
		return result, nil
	}
	if search == nil {
		return nil, fmt.Errorf("%w: search %v", ErrResourceNotFound, s.SearchID)
	}

	for _, pos := range s.Select {
		if pos < 0 || pos >= len(search.Status.Candidates) {
			return nil, fmt.Errorf("%w: position %d, search has %d candidates", ErrInvalidSelection, pos, len(search.Status.Candidates))
		}
		result = append(result, search.Status.Candidates[pos].URL)
	}

	return result, nil
}

// RunStatus represents the state of a batch run
type RunStatus string

const (
	RunPending          RunStatus = "pending"
	RunRunning          RunStatus = "running"
	RunFinishedSuccess  RunStatus = "success"
	RunFinishedFailed   RunStatus = "failed"
	RunFinishedError    RunStatus = "errored"
	RunFinishedCanceled RunStatus = "canceled"
	RunFinishedTimeout  RunStatus = "timeout"
)

func (s RunStatus) IsFinal() bool {
	switch s {
	case RunFinishedSuccess, RunFinishedFailed, RunFinishedError, RunFinishedCanceled, RunFinishedTimeout:
		return true
	}
	return false
}

// ImageFailure records a single image that could not be processed
type ImageFailure struct {
	URL    string `form:"url" json:"url" yaml:"url" xml:"url"`
	Reason string `form:"reason" json:"reason" yaml:"reason" xml:"reason"`
}

type BatchStatus struct {
	State     RunStatus      `form:"state" json:"state" yaml:"state" xml:"state" binding:"required"`
	Processed int            `form:"processed" json:"processed" yaml:"processed" xml:"processed"`
	Failures  []ImageFailure `gorm:"serializer:json" form:"failures,omitempty" json:"failures,omitempty" yaml:"failures,omitempty" xml:"failures>failure,omitempty"`
	Message   string         `form:"message,omitempty" json:"message,omitempty" yaml:"message,omitempty" xml:"message,omitempty"`

	// Artifact holding the zip archive of processed images
	ArchiveID wyrd.ResourceID `form:"archiveId,omitempty" json:"archiveId,omitempty" yaml:"archiveId,omitempty" xml:"archiveId,omitempty"`

	// Queue message that carries the batch job
	MessageID string `form:"messageId,omitempty" json:"messageId,omitempty" yaml:"messageId,omitempty" xml:"messageId,omitempty"`

	FinishedAt *time.Time `form:"finishedAt,omitempty" json:"finishedAt,omitempty" yaml:"finishedAt,omitempty" xml:"finishedAt,omitempty"`
}

type Batch struct {
	ResourceMeta `json:"metadata" yaml:"metadata" xml:"metadata"`

	Spec   BatchSpec   `gorm:"embedded;embeddedPrefix:spec_" json:"spec" yaml:"spec" xml:"spec"`
	Status BatchStatus `gorm:"embedded;embeddedPrefix:status_" json:"status" yaml:"status" xml:"status"`
}

//------------------------------
// Artifact
//------------------------------

const (
	RelImage   = "image"
	RelArchive = "archive"
	RelLog     = "log"
	RelMetrics = "metrics"
	RelHar     = "har"

	EncodingIdentity = "identity"
	EncodingZstd     = "zstd"
)

type ArtifactSpec struct {
	// Batch that produced this artifact
	BatchID wyrd.ResourceID `gorm:"index" form:"batchId" json:"batchId" yaml:"batchId" xml:"batchId"`

	// Relation type: image / archive / log / etc. Determines how content is consumed by clients
	Rel string `form:"rel" json:"rel" yaml:"rel" xml:"rel"`

	// MimeType of the content
	MimeType string `form:"mimeType" json:"mimeType" yaml:"mimeType" xml:"mimeType"`

	// Content encoding, identity if empty
	Encoding string `form:"encoding,omitempty" json:"encoding,omitempty" yaml:"encoding,omitempty" xml:"encoding,omitempty"`

	// Blob content of the artifact
	Content []byte `form:"content,omitempty" json:"content,omitempty" yaml:"content,omitempty" xml:"content,omitempty"`
}

type Artifact struct {
	ResourceMeta `json:"metadata" yaml:"metadata" xml:"metadata"`

	Spec ArtifactSpec `gorm:"embedded;embeddedPrefix:spec_" json:"spec" yaml:"spec" xml:"spec"`
}

//------------------------------
// Manifest views
//------------------------------

func (s Search) ToManifest() wyrd.ResourceManifest {
	return wyrd.ResourceManifest{
		TypeMeta: wyrd.TypeMeta{Kind: KindSearch},
		Metadata: s.ObjectMeta(),
		Spec:     &s.Spec,
	}
}

func (b Batch) ToManifest() wyrd.ResourceManifest {
	return wyrd.ResourceManifest{
		TypeMeta: wyrd.TypeMeta{Kind: KindBatch},
		Metadata: b.ObjectMeta(),
		Spec:     &b.Spec,
	}
}

func (a Artifact) ToManifest() wyrd.ResourceManifest {
	return wyrd.ResourceManifest{
		TypeMeta: wyrd.TypeMeta{Kind: KindArtifact},
		Metadata: a.ObjectMeta(),
		Spec:     &a.Spec,
	}
}
