package imago

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sre-norns/imago/pkg/search"
	"github.com/sre-norns/imago/pkg/wyrd"
)

const (
	DefaultJobTimeout = 5 * time.Minute

	// Extra time a worker has to report results after the job timeout
	TokenGracePeriod = time.Minute
)

type ReadableResourceApi[T any] interface {
	// List all resources matching given search query
	List(ctx context.Context, searchQuery SearchQuery) ([]T, error)

	// Get a single resource given its unique ID,
	// Returns a resource if it exists, false, if resource doesn't exists
	// error if there was communication error with the storage
	Get(ctx context.Context, id wyrd.ResourceID) (resource T, exists bool, commError error)
}

type SearchApi interface {
	ReadableResourceApi[Search]

	// Create runs the search with the provider named in the spec and stores the results
	Create(ctx context.Context, meta wyrd.ObjectMeta, spec SearchSpec) (Search, error)

	Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error)
}

type BatchApi interface {
	ReadableResourceApi[Batch]

	// Create stores a new batch and schedules it for processing
	Create(ctx context.Context, meta wyrd.ObjectMeta, spec BatchSpec) (Batch, error)

	Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error)

	// UpdateStatus is called by workers to report progress of a batch run
	UpdateStatus(ctx context.Context, id wyrd.VersionedResourceId, token ApiToken, status BatchStatus) (CreatedResponse, error)

	// GetArchive returns the zip archive artifact of a finished batch
	GetArchive(ctx context.Context, id wyrd.ResourceID) (Artifact, bool, error)
}

type ArtifactApi interface {
	// List returns artifacts without content
	ReadableResourceApi[Artifact]

	Create(ctx context.Context, token ApiToken, meta wyrd.ObjectMeta, spec ArtifactSpec) (CreatedResponse, error)

	Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error)

	GetContent(ctx context.Context, id wyrd.ResourceID) (ArtifactSpec, bool, error)
}

type ProvidersApi interface {
	List(ctx context.Context) ([]ProviderInfo, error)
}

type Service interface {
	GetSearchAPI() SearchApi
	GetBatchAPI() BatchApi
	GetArtifactsAPI() ArtifactApi
	GetProvidersAPI() ProvidersApi
}

// ProviderLookup finds a search provider by name
type ProviderLookup interface {
	Find(name string) (search.Registration, bool)
	List() []string
}

type registryLookup struct{}

func (registryLookup) Find(name string) (search.Registration, bool) { return search.Find(name) }
func (registryLookup) List() []string                              { return search.List() }

type ServiceOption func(*serviceImpl)

// WithProviders replaces the global provider registry
func WithProviders(lookup ProviderLookup) ServiceOption {
	return func(s *serviceImpl) {
		s.providers = lookup
	}
}

func WithTokenIssuer(issuer *TokenIssuer) ServiceOption {
	return func(s *serviceImpl) {
		s.tokens = issuer
	}
}

func WithJobTimeout(timeout time.Duration) ServiceOption {
	return func(s *serviceImpl) {
		s.jobTimeout = timeout
	}
}

func WithLogger(logger log.Logger) ServiceOption {
	return func(s *serviceImpl) {
		s.logger = logger
	}
}

func WithMetrics(reg prometheus.Registerer) ServiceOption {
	return func(s *serviceImpl) {
		s.registerer = reg
	}
}

type serviceMetrics struct {
	searches       *prometheus.CounterVec
	batches        *prometheus.CounterVec
	finished       *prometheus.CounterVec
	artifactsBytes *prometheus.CounterVec
}

func newServiceMetrics(reg prometheus.Registerer) serviceMetrics {
	factory := promauto.With(reg)
	return serviceMetrics{
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imago",
			Name:      "searches_total",
			Help:      "Number of image searches by provider and outcome",
		}, []string{"provider", "state"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imago",
			Name:      "batches_scheduled_total",
			Help:      "Number of batches accepted for processing",
		}, []string{"aspect"}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imago",
			Name:      "batches_finished_total",
			Help:      "Number of batch runs reported final by workers",
		}, []string{"state"}),
		artifactsBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imago",
			Name:      "artifact_bytes_total",
			Help:      "Size of stored artifact content",
		}, []string{"rel"}),
	}
}

func NewService(store Store, scheduler Scheduler, options ...ServiceOption) Service {
	s := &serviceImpl{
		store:      store,
		scheduler:  scheduler,
		providers:  registryLookup{},
		jobTimeout: DefaultJobTimeout,
		logger:     log.NewNopLogger(),
	}
	for _, opt := range options {
		opt(s)
	}

	if s.tokens == nil {
		// Tokens issued without a configured secret do not survive a restart
		s.tokens = NewTokenIssuer(NewRandomSecret())
	}
	s.metrics = newServiceMetrics(s.registerer)

	return s
}

type (
	serviceImpl struct {
		store      Store
		scheduler  Scheduler
		providers  ProviderLookup
		tokens     *TokenIssuer
		jobTimeout time.Duration
		logger     log.Logger
		registerer prometheus.Registerer
		metrics    serviceMetrics
	}

	searchApiImpl struct {
		*serviceImpl
	}

	batchApiImpl struct {
		*serviceImpl
	}

	artifactApiImpl struct {
		*serviceImpl
	}

	providersApiImpl struct {
		*serviceImpl
	}
)

func (s *serviceImpl) GetSearchAPI() SearchApi {
	return &searchApiImpl{s}
}

func (s *serviceImpl) GetBatchAPI() BatchApi {
	return &batchApiImpl{s}
}

func (s *serviceImpl) GetArtifactsAPI() ArtifactApi {
	return &artifactApiImpl{s}
}

func (s *serviceImpl) GetProvidersAPI() ProvidersApi {
	return &providersApiImpl{s}
}

func getResource[T any, PT interface {
	*T
	GetID() wyrd.ResourceID
	IsDeleted() bool
}](ctx context.Context, store Store, id wyrd.ResourceID) (T, bool, error) {
	var result T
	ok, err := store.Get(ctx, &result, id)
	if err != nil || !ok {
		return result, false, err
	}

	p := PT(&result)
	return result, p.GetID() == id && !p.IsDeleted(), nil
}

//------------------------------
/// Searches API
//------------------------------
func (m *searchApiImpl) List(ctx context.Context, query SearchQuery) ([]Search, error) {
	var resources []Search
	if err := m.store.FindResources(ctx, &resources, query); err != nil {
		return nil, err
	}
	return resources, nil
}

func (m *searchApiImpl) Get(ctx context.Context, id wyrd.ResourceID) (Search, bool, error) {
	return getResource[Search](ctx, m.store, id)
}

func (m *searchApiImpl) Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error) {
	return m.store.Delete(ctx, &Search{}, id)
}

func (m *searchApiImpl) Create(ctx context.Context, meta wyrd.ObjectMeta, spec SearchSpec) (Search, error) {
	if err := spec.Validate(); err != nil {
		return Search{}, err
	}

	provider, ok := m.providers.Find(spec.Provider)
	if !ok {
		return Search{}, fmt.Errorf("%w: %q", ErrUnknownProvider, spec.Provider)
	}

	result, err := provider.Provider.Search(ctx, search.Request{
		Query:  spec.Query,
		Limit:  spec.Limit,
		Format: spec.Format,
	})
	if err != nil {
		m.metrics.searches.WithLabelValues(spec.Provider, "failed").Inc()
		level.Warn(m.logger).Log("msg", "search provider failed", "provider", spec.Provider, "query", spec.Query, "err", err)
		return Search{}, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	entry := Search{
		ResourceMeta: newResourceMeta(meta, KindSearch),
		Spec:         spec,
		Status: SearchStatus{
			State:           SearchFound,
			Candidates:      make([]Candidate, 0, len(result.URLs)),
			Warnings:        result.Warnings,
			ProviderVersion: provider.Version,
		},
	}
	for i, u := range result.URLs {
		entry.Status.Candidates = append(entry.Status.Candidates, Candidate{Position: i, URL: u})
	}
	if len(entry.Status.Candidates) == 0 {
		entry.Status.State = SearchEmpty
	}
	entry.Labels = wyrd.MergeLabels(entry.Labels, wyrd.Labels{
		LabelSearchName:     entry.Name,
		LabelSearchProvider: spec.Provider,
	})

	if err := m.store.Create(ctx, &entry); err != nil {
		return entry, err
	}

	m.metrics.searches.WithLabelValues(spec.Provider, string(entry.Status.State)).Inc()
	level.Debug(m.logger).Log("msg", "search stored", "id", entry.ID, "name", entry.Name, "candidates", len(entry.Status.Candidates))

	return entry, nil
}

//------------------------------
/// Batches API
//------------------------------
func (m *batchApiImpl) List(ctx context.Context, query SearchQuery) ([]Batch, error) {
	var resources []Batch
	if err := m.store.FindResources(ctx, &resources, query); err != nil {
		return nil, err
	}
	return resources, nil
}

func (m *batchApiImpl) Get(ctx context.Context, id wyrd.ResourceID) (Batch, bool, error) {
	return getResource[Batch](ctx, m.store, id)
}

func (m *batchApiImpl) Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error) {
	return m.store.Delete(ctx, &Batch{}, id)
}

func (m *batchApiImpl) Create(ctx context.Context, meta wyrd.ObjectMeta, spec BatchSpec) (Batch, error) {
	if m.scheduler == nil {
		return Batch{}, ErrNoScheduler
	}
	if err := spec.Validate(); err != nil {
		return Batch{}, err
	}

	var source *Search
	if spec.SearchID != wyrd.InvalidResourceID && len(spec.Select) != 0 {
		found, ok, err := m.GetSearchAPI().Get(ctx, spec.SearchID)
		if err != nil {
			return Batch{}, err
		}
		if ok {
			source = &found
		}
	}

	images, err := spec.ResolveImages(source)
	if err != nil {
		return Batch{}, err
	}
	if len(images) == 0 {
		return Batch{}, ErrNoImages
	}

	runId := NewRunId()
	entry := Batch{
		ResourceMeta: newResourceMeta(meta, KindBatch),
		Spec:         spec,
		Status: BatchStatus{
			State:     RunPending,
			MessageID: string(runId),
		},
	}
	entry.Labels = wyrd.MergeLabels(entry.Labels, wyrd.Labels{
		LabelBatchName:   entry.Name,
		LabelBatchAspect: spec.Aspect.Orientation(),
	})
	if source != nil {
		entry.Labels[LabelSearchUID] = source.ID.String()
		entry.Labels[LabelSearchName] = source.Name
	}

	if err := m.store.Create(ctx, &entry); err != nil {
		return entry, err
	}

	token, err := m.tokens.Issue(entry.GetVersionedID(), m.jobTimeout+TokenGracePeriod)
	if err != nil {
		return entry, fmt.Errorf("failed to issue run token: %w", err)
	}

	job, err := NewBatchJob(entry, images, token, m.jobTimeout)
	if err != nil {
		return entry, err
	}
	job.RunID = runId

	queuedAs, err := m.scheduler.Schedule(ctx, job)
	if err != nil {
		return entry, fmt.Errorf("failed to schedule batch %v: %w", entry.GetVersionedID(), err)
	}
	if queuedAs != runId {
		level.Warn(m.logger).Log("msg", "scheduler ignored run id", "id", entry.GetVersionedID(), "runId", runId, "queuedAs", queuedAs)
	}
	m.metrics.batches.WithLabelValues(spec.Aspect.Orientation()).Inc()
	level.Info(m.logger).Log("msg", "batch scheduled", "id", entry.GetVersionedID(), "images", len(images), "runId", runId)

	return entry, nil
}

func (m *batchApiImpl) UpdateStatus(ctx context.Context, id wyrd.VersionedResourceId, token ApiToken, status BatchStatus) (CreatedResponse, error) {
	claims, err := m.tokens.Verify(token, id.ID)
	if err != nil {
		return CreatedResponse{}, err
	}
	if claims.Version > id.Version {
		return CreatedResponse{}, fmt.Errorf("%w: token issued for version %v", ErrInvalidToken, claims.Version)
	}

	if status.State == RunPending || (status.State != RunRunning && !status.State.IsFinal()) {
		return CreatedResponse{}, fmt.Errorf("%w: %q", ErrInvalidRunState, status.State)
	}

	entry, ok, err := m.Get(ctx, id.ID)
	if err != nil {
		return CreatedResponse{}, err
	}
	if !ok {
		return CreatedResponse{}, fmt.Errorf("%w: batch %v", ErrResourceNotFound, id.ID)
	}
	if entry.Status.State.IsFinal() {
		return CreatedResponse{}, fmt.Errorf("%w: %v is %q", ErrBatchFinished, id.ID, entry.Status.State)
	}
	if entry.Version != id.Version {
		return CreatedResponse{}, fmt.Errorf("%w: batch %v is at version %v", ErrVersionConflict, id, entry.Version)
	}

	if status.MessageID == "" {
		status.MessageID = entry.Status.MessageID
	}
	if status.State.IsFinal() && status.FinishedAt == nil {
		now := time.Now()
		status.FinishedAt = &now
	}

	entry.Status = status
	entry.Version += 1
	ok, err = m.store.Update(ctx, &entry, id)
	if err != nil {
		return CreatedResponse{}, err
	}
	if !ok {
		return CreatedResponse{}, fmt.Errorf("%w: batch %v was updated concurrently", ErrVersionConflict, id)
	}

	if status.State.IsFinal() {
		m.metrics.finished.WithLabelValues(string(status.State)).Inc()
	}
	level.Info(m.logger).Log("msg", "batch status updated", "id", entry.GetVersionedID(), "state", status.State, "processed", status.Processed, "failures", len(status.Failures))

	return CreatedResponse{
		TypeMeta:            wyrd.TypeMeta{Kind: KindBatch},
		VersionedResourceId: entry.GetVersionedID(),
	}, nil
}

func (m *batchApiImpl) GetArchive(ctx context.Context, id wyrd.ResourceID) (Artifact, bool, error) {
	entry, ok, err := m.Get(ctx, id)
	if err != nil || !ok {
		return Artifact{}, ok, err
	}
	if entry.Status.ArchiveID == wyrd.InvalidResourceID {
		return Artifact{}, false, nil
	}

	return getResource[Artifact](ctx, m.store, entry.Status.ArchiveID)
}

//------------------------------
/// Artifacts API
//------------------------------
func (m *artifactApiImpl) List(ctx context.Context, query SearchQuery) ([]Artifact, error) {
	var resources []Artifact
	if err := m.store.FindResources(ctx, &resources, query); err != nil {
		return nil, err
	}

	for i := range resources {
		resources[i].Spec.Content = nil
	}
	return resources, nil
}

func (m *artifactApiImpl) Get(ctx context.Context, id wyrd.ResourceID) (Artifact, bool, error) {
	return getResource[Artifact](ctx, m.store, id)
}

func (m *artifactApiImpl) Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error) {
	return m.store.Delete(ctx, &Artifact{}, id)
}

func (m *artifactApiImpl) GetContent(ctx context.Context, id wyrd.ResourceID) (ArtifactSpec, bool, error) {
	entry, ok, err := m.Get(ctx, id)
	return entry.Spec, ok, err
}

func (m *artifactApiImpl) Create(ctx context.Context, token ApiToken, meta wyrd.ObjectMeta, spec ArtifactSpec) (CreatedResponse, error) {
	if _, err := m.tokens.Verify(token, spec.BatchID); err != nil {
		return CreatedResponse{}, err
	}

	batch, ok, err := m.GetBatchAPI().Get(ctx, spec.BatchID)
	if err != nil {
		return CreatedResponse{}, err
	}
	if !ok {
		return CreatedResponse{}, fmt.Errorf("%w: batch %v", ErrResourceNotFound, spec.BatchID)
	}
	if batch.Status.State.IsFinal() {
		return CreatedResponse{}, fmt.Errorf("%w: %v is %q", ErrBatchFinished, batch.ID, batch.Status.State)
	}

	if spec.Encoding == "" {
		spec.Encoding = EncodingIdentity
	}

	entry := Artifact{
		ResourceMeta: newResourceMeta(meta, KindArtifact),
		Spec:         spec,
	}
	entry.Labels = wyrd.MergeLabels(entry.Labels, wyrd.Labels{
		LabelBatchUID:     batch.ID.String(),
		LabelBatchName:    batch.Name,
		LabelArtifactRel:  spec.Rel,
		LabelArtifactMime: wyrd.SanitizeLabelValue(spec.MimeType),
	})

	if err := m.store.Create(ctx, &entry); err != nil {
		return CreatedResponse{}, err
	}
	m.metrics.artifactsBytes.WithLabelValues(spec.Rel).Add(float64(len(spec.Content)))

	return CreatedResponse{
		TypeMeta:            wyrd.TypeMeta{Kind: KindArtifact},
		VersionedResourceId: entry.GetVersionedID(),
	}, nil
}

//------------------------------
/// Providers API
//------------------------------
func (m *providersApiImpl) List(ctx context.Context) ([]ProviderInfo, error) {
	names := m.providers.List()
	result := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		reg, ok := m.providers.Find(name)
		if !ok {
			continue
		}
		result = append(result, ProviderInfo{
			Name:    name,
			Version: reg.Version,
		})
	}

	return result, nil
}
