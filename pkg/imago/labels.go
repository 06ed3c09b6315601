package imago

// Common prefix for imago managed resources
const (
	LabelsPrefix = "imago/"

	// Well-known search labels:
	LabelSearchName     = LabelsPrefix + "search.name"
	LabelSearchUID      = LabelsPrefix + "search.uid"
	LabelSearchProvider = LabelsPrefix + "search.provider"

	// Well-known batch labels:
	LabelBatchName    = LabelsPrefix + "batch.name"
	LabelBatchUID     = LabelsPrefix + "batch.uid"
	LabelBatchVersion = LabelsPrefix + "batch.version"
	LabelBatchAspect  = LabelsPrefix + "batch.aspect"

	// Well-known artifact labels:
	LabelArtifactRel   = LabelsPrefix + "artifact.rel"
	LabelArtifactMime  = LabelsPrefix + "artifact.mime"
	LabelArtifactIndex = LabelsPrefix + "artifact.index"

	// Well-known worker labels:
	LabelWorkerName = LabelsPrefix + "worker.name"

	LabelRunMessageId = "run.messageId"
)
