package vsac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
	"github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/http-handlers-go/httphandlers"
	"github.com/Financial-Times/service-status-go/gtg"
	serviceStatus "github.com/Financial-Times/service-status-go/httphandlers"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	metrics "github.com/rcrowley/go-metrics"
)

const (
	panicGuideURL  = "https://runbooks.ftops.tech/vsac-valueset-loader"
	businessImpact = "Value set concepts from VSAC will not be refreshed in the reference table"

	storePingTimeout = 5 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

// AdminHandler serves health, good-to-go, build info and run metrics while a load is in flight.
type AdminHandler struct {
	service *LoaderService
	store   pinger
	log     *logger.UPPLogger
}

func NewAdminHandler(service *LoaderService, store pinger, log *logger.UPPLogger) *AdminHandler {
	return &AdminHandler{
		service: service,
		store:   store,
		log:     log,
	}
}

func (h *AdminHandler) RegisterAdminHandlers(router *mux.Router, appSystemCode string, appName string, appDescription string) http.Handler {
	h.log.Info("Registering admin handlers")

	var checks = []fthealth.Check{h.terminologyServiceHealthCheck(), h.storeHealthCheck()}

	timedHC := fthealth.TimedHealthCheck{
		HealthCheck: fthealth.HealthCheck{
			SystemCode:  appSystemCode,
			Description: appDescription,
			Name:        appName,
			Checks:      checks,
		},
		Timeout: 10 * time.Second,
	}

	router.HandleFunc("/__health", fthealth.Handler(&timedHC))
	router.HandleFunc(serviceStatus.GTGPath, serviceStatus.NewGoodToGoHandler(gtg.StatusChecker(h.gtg)))
	router.HandleFunc(serviceStatus.BuildInfoPath, serviceStatus.BuildInfoHandler)
	router.Handle("/__metrics", handlers.MethodHandler{
		"GET": http.HandlerFunc(h.metricsHandler),
	})

	var monitoringRouter http.Handler = router
	monitoringRouter = httphandlers.TransactionAwareRequestLoggingHandler(h.log.Logger, monitoringRouter)
	monitoringRouter = httphandlers.HTTPMetricsHandler(metrics.DefaultRegistry, monitoringRouter)
	return monitoringRouter
}

func (h *AdminHandler) metricsHandler(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	metrics.WriteJSONOnce(h.service.Registry(), rw)
}

func (h *AdminHandler) gtg() gtg.Status {
	terminologyCheck := func() gtg.Status {
		return gtgCheck(h.checkTerminologyService)
	}

	storeCheck := func() gtg.Status {
		return gtgCheck(h.checkStoreConnectivity)
	}

	return gtg.FailFastParallelCheck([]gtg.StatusChecker{
		terminologyCheck,
		storeCheck,
	})()
}

func gtgCheck(handler func() (string, error)) gtg.Status {
	if _, err := handler(); err != nil {
		return gtg.Status{GoodToGo: false, Message: err.Error()}
	}
	return gtg.Status{GoodToGo: true}
}

func (h *AdminHandler) terminologyServiceHealthCheck() fthealth.Check {
	return fthealth.Check{
		BusinessImpact:   businessImpact,
		Name:             "Check connectivity to VSAC",
		PanicGuide:       panicGuideURL,
		Severity:         2,
		TechnicalSummary: `The last request to the VSAC RetrieveMultipleValueSets endpoint failed before a response was received. Check network access to vsac.nlm.nih.gov`,
		Checker:          h.checkTerminologyService,
	}
}

func (h *AdminHandler) storeHealthCheck() fthealth.Check {
	return fthealth.Check{
		BusinessImpact:   businessImpact,
		Name:             "Check connectivity to the reference database",
		PanicGuide:       panicGuideURL,
		Severity:         2,
		TechnicalSummary: `Check that the reference database is up and accepts connections from this job`,
		Checker:          h.checkStoreConnectivity,
	}
}

func (h *AdminHandler) checkTerminologyService() (string, error) {
	called, err := h.service.LastTransportError()
	if !called {
		return "No request made to VSAC yet", nil
	}
	if err != nil {
		clientError := fmt.Sprintf("Last request to VSAC failed: %v", err)
		h.log.WithError(err).Error(clientError)
		return clientError, errors.New("unable to verify availability of VSAC")
	}
	return "Last request to VSAC received a response", nil
}

func (h *AdminHandler) checkStoreConnectivity() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storePingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		clientError := fmt.Sprintf("Error pinging reference database: %v", err)
		h.log.WithError(err).Error(clientError)
		return clientError, errors.New("unable to verify availability of the reference database")
	}
	return "Successfully connected to the reference database", nil
}
