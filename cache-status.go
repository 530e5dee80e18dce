package rulecache

import "strings"

const cacheStatusName = "RuleCache"

type CacheStatusStatus string

const (
	CacheStatusHit CacheStatusStatus = "hit"
	CacheStatusFwd CacheStatusStatus = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The cache did not contain a response for the request's key.
	FwdReasonMiss FwdReason = "miss"
)

// CacheStatus renders the Cache-Status response header (RFC 9211).
type CacheStatus struct {
	Status    CacheStatusStatus
	FwdReason FwdReason
	Stored    bool
	Collapsed bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = CacheStatusHit
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = CacheStatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	var b strings.Builder
	b.WriteString(cacheStatusName)
	b.WriteString("; ")
	b.WriteString(string(cs.Status))
	if cs.Status == CacheStatusFwd && cs.FwdReason != "" {
		b.WriteString("=" + string(cs.FwdReason))
	}
	if cs.Stored {
		b.WriteString("; stored")
	}
	if cs.Collapsed {
		b.WriteString("; collapsed")
	}
	if cs.Detail != "" {
		b.WriteString("; detail=" + cs.Detail)
	}
	return b.String()
}
