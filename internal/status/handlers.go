package status

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/covclient"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/history"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
	"github.com/normalframework/bacnet-cov-demo/internal/probe"
)

// StateSource is implemented by *covclient.Subscriber.
type StateSource interface {
	Snapshot() covclient.Snapshot
}

// SinkStats is implemented by *notify.Fanout.
type SinkStats interface {
	Sinks() []string
	Errors() map[string]int
}

// HistorySource is implemented by *history.Store.
type HistorySource interface {
	Recent(ctx context.Context, object string, limit int) ([]history.Record, error)
}

// LatestSource is implemented by *rediscache.Cache.
type LatestSource interface {
	Latest(ctx context.Context, device, object string) (map[string]string, error)
}

const maxHistoryLimit = 500

type Handler struct {
	state   StateSource
	sinks   SinkStats
	history HistorySource
	latest  LatestSource
	probes  []*probe.Probe
}

// Health handles GET /healthz. It is always 200; "device" tells whether the
// target device has been found yet.
func (h *Handler) Health(c *gin.Context) {
	snap := h.state.Snapshot()
	active := 0
	for _, s := range snap.Subscriptions {
		if s.Active {
			active++
		}
	}
	body := gin.H{
		"status":               "healthy",
		"device":               snap.Device,
		"objects":              len(snap.Objects),
		"active_subscriptions": active,
	}
	if h.sinks != nil {
		body["sinks"] = h.sinks.Sinks()
		body["sink_errors"] = h.sinks.Errors()
	}
	c.JSON(http.StatusOK, body)
}

// Subscriptions handles GET /subscriptions.
func (h *Handler) Subscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, h.state.Snapshot().Subscriptions)
}

// Values handles GET /values: the last value of every property per object.
func (h *Handler) Values(c *gin.Context) {
	c.JSON(http.StatusOK, h.state.Snapshot().Values)
}

// ObjectValues handles GET /values/:object, e.g. /values/analogInput:1.
func (h *Handler) ObjectValues(c *gin.Context) {
	object := c.Param("object")
	snap := h.state.Snapshot()
	if values, ok := snap.Values[object]; ok {
		c.JSON(http.StatusOK, values)
		return
	}
	if h.latest == nil || snap.Device == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no values for " + object})
		return
	}

	device := notify.ObjectName(bacnet.BACnetObject{Type: bacnet.OBJECT_DEVICE, Instance: snap.Device.ID})
	values, err := h.latest.Latest(c.Request.Context(), device, object)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if len(values) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no values for " + object})
		return
	}
	c.JSON(http.StatusOK, values)
}

// Ready handles GET /readyz: 200 when every probe passes, 503 otherwise.
func (h *Handler) Ready(c *gin.Context) {
	results := probe.RunAll(c.Request.Context(), h.probes...)
	if err := probe.Check(results); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error(), "probes": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "probes": results})
}

// History handles GET /history?object=analogInput:1&limit=20.
func (h *Handler) History(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	records, err := h.history.Recent(c.Request.Context(), c.Query("object"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	c.JSON(http.StatusOK, records)
}
