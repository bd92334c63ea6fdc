package domain

// Stats contains dashboard statistics
type Stats struct {
	Strategies StrategyStats  `json:"strategies"`
	Sessions   SessionStats   `json:"sessions"`
	Candidates CandidateStats `json:"candidates"`
	Workers    WorkerStats    `json:"workers"`
}

// StrategyStats contains strategy-related statistics
type StrategyStats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Exhausted  int `json:"exhausted"`
	Superseded int `json:"superseded"`
}

// SessionStats contains session-related statistics
type SessionStats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Scraping   int `json:"scraping"`
	Validating int `json:"validating"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// CandidateStats counts candidates per verification status
type CandidateStats struct {
	Total    int                        `json:"total"`
	ByStatus map[VerificationStatus]int `json:"by_status"`
}
