package vsac

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	transactionidutils "github.com/Financial-Times/transactionid-utils-go"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Financial-Times/vsac-valueset-loader/valueset"
)

var unsafeFileNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

type FailureKind int

const (
	TransportFailure FailureKind = iota
	UnexpectedStatus
	MalformedXML
)

func (k FailureKind) String() string {
	switch k {
	case TransportFailure:
		return "transport"
	case UnexpectedStatus:
		return "status"
	case MalformedXML:
		return "malformed_xml"
	default:
		return "unknown"
	}
}

// FetchError is a failure to retrieve a single value set. It never stops a run.
type FetchError struct {
	OID          string
	Kind         FailureKind
	StatusCode   int
	ResponseFile string
	Err          error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case UnexpectedStatus:
		return fmt.Sprintf("failed to retrieve OID %s: status %d", e.OID, e.StatusCode)
	case MalformedXML:
		return fmt.Sprintf("XML parse error for OID %s: %v", e.OID, e.Err)
	default:
		return fmt.Sprintf("request failed for OID %s: %v", e.OID, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type httpClient interface {
	Do(req *http.Request) (resp *http.Response, err error)
}

// ConceptWriter is the table the concepts of a run end up in.
type ConceptWriter interface {
	ResetSchema(ctx context.Context) error
	Upsert(ctx context.Context, concept valueset.Concept) error
}

type LoaderService struct {
	config     Config
	httpClient httpClient
	writer     ConceptWriter
	limiter    *rate.Limiter
	metrics    *runMetrics
	log        *logger.UPPLogger

	mu                sync.Mutex
	lastTransportErr  error
	terminologyCalled bool
}

func NewLoaderService(config Config, httpClient httpClient, writer ConceptWriter, log *logger.UPPLogger) *LoaderService {
	if config.Workers < 1 {
		config.Workers = 1
	}
	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	return &LoaderService{
		config:     config,
		httpClient: httpClient,
		writer:     writer,
		limiter:    limiter,
		metrics:    newRunMetrics(),
		log:        log,
	}
}

// Run recreates the concept table, retrieves every value set in oids and upserts the
// concepts in input order. It returns the number of concepts upserted.
func (s *LoaderService) Run(ctx context.Context, oids []string, tid string) (int, error) {
	s.log.WithFields(map[string]interface{}{
		"transaction_id": tid,
		"oids":           len(oids),
		"workers":        s.config.Workers,
	}).Info("Starting value set load")

	if err := s.writer.ResetSchema(ctx); err != nil {
		return 0, fmt.Errorf("reset concept table: %w", err)
	}

	concepts, err := s.RetrieveAll(ctx, oids, tid)
	if err != nil {
		return 0, err
	}

	upserted := 0
	for _, concept := range valueset.Normalize(concepts) {
		if err := s.writer.Upsert(ctx, concept); err != nil {
			return upserted, fmt.Errorf("upsert concept %q of value set %q: %w", concept.Code, concept.ValueSetOID, err)
		}
		upserted++
		s.metrics.upserted.Inc(1)
	}

	s.log.WithFields(s.metrics.summary()).WithField("transaction_id", tid).Infof("Upserted %d concept records.", upserted)
	return upserted, nil
}

// RetrieveAll fetches every value set in oids on at most Config.Workers concurrent requests.
// Failures for a single identifier are logged and contribute no concepts. The returned
// concepts are in input order, then document order, whatever the number of workers.
// Only cancellation of ctx makes it return an error.
func (s *LoaderService) RetrieveAll(ctx context.Context, oids []string, tid string) ([]valueset.Concept, error) {
	results := make([][]valueset.Concept, len(oids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, oid := range oids {
		i, oid := i, oid
		g.Go(func() error {
			if err := s.wait(gctx); err != nil {
				return err
			}
			concepts, err := s.RetrieveValueSet(gctx, oid, tid)
			if err != nil {
				fetchErr, ok := err.(*FetchError)
				if !ok {
					return err
				}
				s.logFetchError(fetchErr, tid)
				return nil
			}
			results[i] = concepts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("retrieve value sets: %w", err)
	}

	var all []valueset.Concept
	for _, concepts := range results {
		all = append(all, concepts...)
	}
	return all, nil
}

// RetrieveValueSet makes one request for oid. Failures of the request, the status or the
// document are returned as *FetchError; a malformed body is saved under Config.ErrorDir first.
func (s *LoaderService) RetrieveValueSet(ctx context.Context, oid string, tid string) ([]valueset.Concept, error) {
	s.log.WithFields(map[string]interface{}{"transaction_id": tid, "oid": oid}).Info("Processing OID")

	request, err := s.newRequest(ctx, oid, tid)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	s.metrics.requests.Inc(1)
	resp, err := s.httpClient.Do(request)
	s.metrics.fetch.UpdateSince(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.recordTerminologyCall(err)
		return nil, &FetchError{OID: oid, Kind: TransportFailure, Err: err}
	}
	s.recordTerminologyCall(nil)

	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			s.log.WithError(err).Info("Could not close body")
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{OID: oid, Kind: UnexpectedStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{OID: oid, Kind: TransportFailure, Err: fmt.Errorf("read response body: %w", err)}
	}

	concepts, err := valueset.Extract(bytes.NewReader(body))
	if err != nil {
		fetchErr := &FetchError{OID: oid, Kind: MalformedXML, Err: err}
		path, writeErr := s.dumpErrorResponse(oid, body)
		if writeErr != nil {
			s.log.WithError(writeErr).WithFields(map[string]interface{}{"transaction_id": tid, "oid": oid}).Warn("Could not save malformed response")
		}
		fetchErr.ResponseFile = path
		return nil, fetchErr
	}

	s.metrics.extracted.Inc(int64(len(concepts)))
	s.log.WithFields(map[string]interface{}{"transaction_id": tid, "oid": oid}).Debugf("Extracted %d concepts", len(concepts))
	return concepts, nil
}

func (s *LoaderService) newRequest(ctx context.Context, oid string, tid string) (*http.Request, error) {
	reqURL, err := url.Parse(s.config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse VSAC endpoint %s: %w", s.config.Endpoint, err)
	}
	query := reqURL.Query()
	query.Set("id", oid)
	reqURL.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request to %s: %w", reqURL, err)
	}
	request.SetBasicAuth(s.config.Username, s.config.APIKey)
	request.Header.Set("Accept-Encoding", "identity")
	request.Header.Set(transactionidutils.TransactionIDHeader, tid)
	return request, nil
}

func (s *LoaderService) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *LoaderService) logFetchError(fetchErr *FetchError, tid string) {
	s.metrics.recordFailure(fetchErr.Kind)

	fields := map[string]interface{}{
		"transaction_id": tid,
		"oid":            fetchErr.OID,
		"failure":        fetchErr.Kind.String(),
	}
	switch fetchErr.Kind {
	case UnexpectedStatus:
		fields["status"] = fetchErr.StatusCode
		s.log.WithFields(fields).Errorf("Failed to retrieve OID %s: Status %d", fetchErr.OID, fetchErr.StatusCode)
	case MalformedXML:
		fields["file"] = fetchErr.ResponseFile
		s.log.WithError(fetchErr.Err).WithFields(fields).Errorf("XML parse error for OID %s", fetchErr.OID)
	default:
		s.log.WithError(fetchErr.Err).WithFields(fields).Errorf("Request failed for OID %s", fetchErr.OID)
	}
}

func (s *LoaderService) dumpErrorResponse(oid string, body []byte) (string, error) {
	if err := os.MkdirAll(s.config.ErrorDir, 0o755); err != nil {
		return "", fmt.Errorf("create error response directory: %w", err)
	}
	path := filepath.Join(s.config.ErrorDir, ErrorResponseFileName(oid))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write error response: %w", err)
	}
	return path, nil
}

// ErrorResponseFileName is the name a malformed response for oid is saved under.
func ErrorResponseFileName(oid string) string {
	return "error_response_" + unsafeFileNameChars.ReplaceAllString(oid, "_") + ".xml"
}

func (s *LoaderService) recordTerminologyCall(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminologyCalled = true
	s.lastTransportErr = err
}

// LastTransportError reports whether the most recent request reached VSAC.
// The boolean is false until the first request has been made.
func (s *LoaderService) LastTransportError() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminologyCalled, s.lastTransportErr
}

func (s *LoaderService) Registry() metrics.Registry {
	return s.metrics.registry
}
