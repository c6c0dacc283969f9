package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TextCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_text_created_total",
		Help: "no. of texts created",
	})
	TextRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_text_retrieved_total",
		Help: "no. of texts retrieved",
	})
	TextUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_text_updated_total",
		Help: "no. of texts updated",
	})
	TextDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_text_deleted_total",
		Help: "no. of texts deleted",
	})
	TextLocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_text_locked_total",
		Help: "no. of texts locked",
	})
	TextDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_text_downloaded_total",
		Help: "no. of zip downloads served",
	})
	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_id_collisions_total",
		Help: "no. of id candidates discarded due to collision",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_cache_misses_total",
		Help: "no. of cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textdrop_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textdrop_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	ExpiredPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textdrop_expired_pruned_total",
		Help: "no. of expired rows removed by the cleanup worker",
	})
	RawFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textdrop_raw_fetches_total",
			Help: "no. of repository file fetches",
		},
		[]string{"outcome"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "textdrop_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)

func Init() {
}
