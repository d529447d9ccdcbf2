package control

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"marketfeed/internal/cache"
	"marketfeed/internal/errs"
	"marketfeed/internal/masterdata"
	"marketfeed/internal/model"
	"marketfeed/internal/stream"
	"marketfeed/internal/tokens"
)

// Admin is the Control Plane's HTTP surface: health, market-data and
// master-data reads, and instrument subscription management. Built on
// gin-gonic/gin in place of the teacher's raw http.ServeMux handlers.
type Admin struct {
	log        zerolog.Logger
	supervisor *stream.Supervisor
	gateway    *cache.Gateway
	relstore   *masterdata.RelStore
	reloader   *tokens.Reloader
}

// NewAdmin creates an Admin surface.
func NewAdmin(log zerolog.Logger, sup *stream.Supervisor, gw *cache.Gateway, rs *masterdata.RelStore, reloader *tokens.Reloader) *Admin {
	return &Admin{log: log, supervisor: sup, gateway: gw, relstore: rs, reloader: reloader}
}

// Register mounts every admin route onto r.
func (a *Admin) Register(r gin.IRouter) {
	r.GET("/api/health", a.health)
	r.GET("/api/market-data", a.marketDataAll)
	r.GET("/api/market-data/:instrument_key", a.marketDataOne)
	r.GET("/api/subscriptions", a.subscriptions)
	r.GET("/api/instruments", a.instruments)
	r.GET("/api/instruments/modes", a.instrumentModes)
	r.POST("/api/instruments/subscribe", a.instrumentsSubscribe)
	r.POST("/api/instruments/unsubscribe", a.instrumentsUnsubscribe)
	r.POST("/api/instruments/change-mode", a.instrumentsChangeMode)
	r.GET("/api/fno-underlying", a.fnoUnderlying)
	r.POST("/api/admin/reload-tokens", a.reloadTokens)
}

func (a *Admin) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"upstream":      a.supervisor.Health(),
		"connectors":    a.supervisor.States(),
		"cache_circuit": a.gateway.CircuitState(),
	})
}

func (a *Admin) marketDataAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ticks": a.gateway.AllTicks()})
}

func (a *Admin) marketDataOne(c *gin.Context) {
	key := c.Param("instrument_key")
	t, ok, err := a.gateway.ReadTick(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tick cached for " + key})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (a *Admin) subscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instruments": a.supervisor.SubscribedInstruments()})
}

func (a *Admin) instruments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instruments": a.supervisor.SubscribedInstruments()})
}

func (a *Admin) instrumentModes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"modes": a.supervisor.InstrumentModes()})
}

type instrumentModeRequest struct {
	Instruments []string   `json:"instruments"`
	Mode        model.Mode `json:"mode"`
}

func (a *Admin) instrumentsSubscribe(c *gin.Context) {
	var req instrumentModeRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Instruments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrEmptyInstrumentList.Error()})
		return
	}
	ok, perConn := a.supervisor.Subscribe(req.Instruments, req.Mode)
	a.respondApply(c, ok, perConn)
}

func (a *Admin) instrumentsUnsubscribe(c *gin.Context) {
	var req instrumentModeRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Instruments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrEmptyInstrumentList.Error()})
		return
	}
	ok, perConn := a.supervisor.Unsubscribe(req.Instruments)
	a.respondApply(c, ok, perConn)
}

func (a *Admin) instrumentsChangeMode(c *gin.Context) {
	var req instrumentModeRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Instruments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrEmptyInstrumentList.Error()})
		return
	}
	ok, perConn := a.supervisor.ChangeMode(req.Instruments, req.Mode)
	a.respondApply(c, ok, perConn)
}

func (a *Admin) respondApply(c *gin.Context, ok bool, perConnErrs map[int]error) {
	failures := make(map[int]string, len(perConnErrs))
	for idx, err := range perConnErrs {
		failures[idx] = err.Error()
	}
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "connector_errors": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "connector_errors": failures})
}

func (a *Admin) fnoUnderlying(c *gin.Context) {
	if a.relstore == nil {
		c.JSON(http.StatusOK, gin.H{"rows": []model.FNOUnderlying{}})
		return
	}
	var (
		rows []model.FNOUnderlying
		err  error
	)
	if symbol := c.Query("trading_symbol"); symbol != "" {
		rows, err = a.relstore.ByTradingSymbol(symbol)
	} else {
		rows, err = a.relstore.All()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (a *Admin) reloadTokens(c *gin.Context) {
	if a.reloader == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "token reload not configured"})
		return
	}
	res, err := a.reloader.Reload(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}
