package database

// AnalysisRecord is a stored verdict.
type AnalysisRecord struct {
	ID              int64
	CorrelationID   string
	Symbol          string
	Name            *string
	ReportType      string
	SentimentScore  int
	OperationAdvice *string
	TrendPrediction *string
	ConfidenceLevel *string
	Summary         *string
	Narrative       *string
	CurrentPrice    *float64
	ChangePct       *float64
	NewsContent     *string
	ContextSnapshot *string
	CreatedAt       *string
}

// NewsIntelRecord is one stored search hit.
type NewsIntelRecord struct {
	ID          int64
	Symbol      string
	Name        *string
	Dimension   string
	Query       *string
	Provider    *string
	Title       string
	URL         string
	Snippet     *string
	Source      *string
	Published   *string
	QueryID     *string
	QuerySource *string
	FetchedAt   *string
}

// RunReport holds metadata about a pipeline run.
type RunReport struct {
	ID          int64
	RunID       string
	RunDate     string
	Requested   int
	Succeeded   int
	Failed      int
	DryRun      bool
	ReportPath  *string
	ElapsedMS   int64
	GeneratedAt *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	DailyRecords   int
	Symbols        int
	LatestDataDate string
	Analyses       int
	NewsItems      int
	Runs           int
}
