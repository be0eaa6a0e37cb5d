package server

import (
	"bytes"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hupe1980/mailclass"
	"github.com/hupe1980/mailclass/codec"
	"github.com/hupe1980/mailclass/msgstore"
	"github.com/hupe1980/mailclass/rules"
	"github.com/hupe1980/mailclass/taxonomy"
)

type classifyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type messageRequest struct {
	MessageID string `json:"messageId"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"modelLoaded": s.classifier() != nil,
	})
}

func (s *Server) getModel(c *gin.Context) {
	clf := s.classifier()
	if clf == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no model loaded"})
		return
	}

	stats := clf.Stats()
	spaces := clf.LabelSpaces()

	labels := gin.H{}
	for d := taxonomy.Dimension(0); d < taxonomy.NumDimensions; d++ {
		labels[d.String()] = spaces.Labels(d)
	}

	c.JSON(http.StatusOK, gin.H{
		"numFeatures":           stats.NumFeatures,
		"docCount":              stats.DocCount,
		"headSizes":             stats.HeadSizes,
		"epochLosses":           stats.EpochLosses,
		"unknownLabels":         stats.UnknownLabels,
		"outOfRangePredictions": stats.OutOfRangePredictions,
		"idfSkips":              stats.IDFSkips,
		"labels":                labels,
	})
}

func (s *Server) classify(c *gin.Context) {
	clf := s.classifier()
	if clf == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not loaded"})
		return
	}

	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pred, err := clf.Predict(c.Request.Context(), req.Subject+" "+req.Body)
	if err != nil {
		s.predictError(c, err)
		return
	}

	c.JSON(http.StatusOK, pred)
}

func (s *Server) ingestMessage(c *gin.Context) {
	clf := s.classifier()
	if clf == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not loaded"})
		return
	}

	if s.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message store not configured"})
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pred, err := clf.Predict(c.Request.Context(), req.Subject+" "+req.Body)
	if err != nil {
		s.predictError(c, err)
		return
	}

	id := req.MessageID
	if id == "" {
		id = uuid.NewString()
	}

	record := map[string]any{
		"messageId": id,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"features": map[string]any{
			"subject": req.Subject,
			"body":    req.Body,
		},
		"classification": map[string]any{
			"category0_reviewed":        pred.Reviewed,
			"category1_type":            pred.Type,
			"category2_sender_identity": pred.SenderIdentity,
			"category3_context":         pred.Context,
			"category4_handler":         pred.Handler,
		},
	}

	matched := make([]string, 0)
	actions := make([]rules.Action, 0)

	if engine := s.engine.Load(); engine != nil {
		effects, err := engine.Eval(c.Request.Context(), record)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		matched = lo.Uniq(lo.Map(effects, func(e rules.Effect, _ int) string { return e.RuleID }))
		actions = lo.Map(effects, func(e rules.Effect, _ int) rules.Action { return e.Action })
	}

	record["rulesMatched"] = matched
	record["actions"] = actions

	if err := s.messages.Append(c.Request.Context(), record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (s *Server) listMessages(c *gin.Context) {
	if s.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message store not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	if err != nil || limit < 1 || limit > 10000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 10000"})
		return
	}

	rows, err := s.messages.Scan(c.Request.Context(), msgstore.ScanOptions{
		Date:  c.Query("date"),
		Start: c.Query("start"),
		End:   c.Query("end"),
		Limit: limit,
	})
	if err != nil {
		if errors.Is(err, msgstore.ErrInvalidDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if rows == nil {
		rows = []map[string]any{}
	}

	c.JSON(http.StatusOK, rows)
}

func (s *Server) getTaxonomy(c *gin.Context) {
	s.getDocument(c, s.taxonomyDoc)
}

func (s *Server) putTaxonomy(c *gin.Context) {
	if s.taxonomyDoc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "taxonomy store not configured"})
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := taxonomy.Load(bytes.NewReader(data)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var doc map[string]any
	if err := codec.Default.Unmarshal(data, &doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.taxonomyDoc.Write(doc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (s *Server) getRules(c *gin.Context) {
	s.getDocument(c, s.rulesDoc)
}

// putRules validates the uploaded ruleset, persists it, and swaps the
// serving engine. The swap happens only after the write succeeds.
func (s *Server) putRules(c *gin.Context) {
	if s.rulesDoc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rules store not configured"})
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rs, err := rules.Load(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	engine, err := rules.New(rs.Rules, func(o *rules.Options) {
		o.Logger = s.logger
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.rulesDoc.Write(rs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.engine.Store(engine)

	c.JSON(http.StatusOK, rs)
}

func (s *Server) getDocument(c *gin.Context, store *msgstore.DocStore) {
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document store not configured"})
		return
	}

	doc := map[string]any{}
	if err := store.Read(&doc); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (s *Server) predictError(c *gin.Context, err error) {
	if errors.Is(err, mailclass.ErrNotFitted) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
