package news

import (
	"errors"
	"time"
)

// ErrClaimLost means the article changed under the worker: another worker
// claimed it or its analysis state moved on.
var ErrClaimLost = errors.New("article claim lost")

// Claim is a worker's lease on one article. Every write made under the claim
// is scoped to the analysis type and version the article had when it was
// picked, so two workers can never both persist the same article.
type Claim struct {
	ArticleID   int64
	PrevType    AnalysisType
	PrevVersion string
	Worker      string
	Until       time.Time
}
