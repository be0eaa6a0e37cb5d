package testutil

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/hupe1980/mailclass/codec"
	"github.com/hupe1980/mailclass/dataset"
	"github.com/hupe1980/mailclass/taxonomy"
)

// Taxonomy returns the four-dimension taxonomy used across the test
// suite.
func Taxonomy() *taxonomy.Taxonomy {
	return &taxonomy.Taxonomy{
		Type:    "classification",
		Version: "1.0",
		Categories: []taxonomy.Category{
			{ID: 1, Name: "Category 1: Type", Labels: []string{"newsletter", "invoice", "personal"}},
			{ID: 2, Name: "Category 2: Sender Identity", Labels: []string{"known", "service", "unknown"}},
			{ID: 3, Name: "Category 3: Context", Labels: []string{"general", "finance"}},
			{ID: 4, Name: "Category 4: Handler", Labels: []string{"read", "respond", "archive"}},
		},
	}
}

// Examples returns two rows with disjoint vocabularies, so a few
// training epochs are enough to memorize them.
func Examples() []dataset.Example {
	return []dataset.Example{
		{
			MessageID:      "m-001",
			Subject:        "Invoice 4711 payment due",
			Body:           "Subscription renewal amount 49 EUR remit promptly",
			Type:           "invoice",
			SenderIdentity: "service",
			Context:        "finance",
			Handler:        "archive",
		},
		{
			MessageID:      "m-002",
			Subject:        "Lunch tomorrow",
			Body:           "Grab tacos near standup around noon maybe",
			Type:           "personal",
			SenderIdentity: "known",
			Context:        "general",
			Handler:        "respond",
		},
	}
}

// profile couples a label tuple with the vocabulary its messages draw
// from. Pools are disjoint between profiles so a linear model can
// separate them.
type profile struct {
	typ     string
	sender  string
	context string
	handler string
	subject string
	words   []string
}

var profiles = []profile{
	{
		typ: "invoice", sender: "service", context: "finance", handler: "archive",
		subject: "Invoice %d payment due",
		words:   []string{"payment", "amount", "billing", "remit", "subscription", "renewal", "receipt", "overdue", "statement", "balance"},
	},
	{
		typ: "newsletter", sender: "service", context: "general", handler: "read",
		subject: "Weekly digest %d",
		words:   []string{"digest", "roundup", "headlines", "unsubscribe", "edition", "stories", "briefing", "spotlight", "curated", "highlights"},
	},
	{
		typ: "personal", sender: "known", context: "general", handler: "respond",
		subject: "Catching up %d",
		words:   []string{"lunch", "tomorrow", "tacos", "standup", "noon", "weekend", "hike", "movie", "coffee", "cheers"},
	},
}

const bodyWords = 6

// Generator produces deterministic labeled corpora. It is safe for
// concurrent use.
type Generator struct {
	rand *rand.Rand
	mu   sync.Mutex
}

// NewGenerator creates a generator with the specified seed. The same
// seed always yields the same sequence of examples.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rand: rand.New(rand.NewSource(seed)),
	}
}

// Examples generates n labeled rows. Each row picks one profile and
// samples its body from that profile's vocabulary pool.
func (g *Generator) Examples(n int) []dataset.Example {
	g.mu.Lock()
	defer g.mu.Unlock()

	examples := make([]dataset.Example, n)

	for i := range examples {
		p := profiles[g.rand.Intn(len(profiles))]

		words := make([]string, bodyWords)
		for j := range words {
			words[j] = p.words[g.rand.Intn(len(p.words))]
		}

		examples[i] = dataset.Example{
			MessageID:      fmt.Sprintf("gen-%04d", i+1),
			Subject:        fmt.Sprintf(p.subject, g.rand.Intn(9000)+1000),
			Body:           strings.Join(words, " "),
			Type:           p.typ,
			SenderIdentity: p.sender,
			Context:        p.context,
			Handler:        p.handler,
		}
	}

	return examples
}

// NDJSON renders examples in the dataset wire format, one record per
// line.
func NDJSON(examples []dataset.Example) ([]byte, error) {
	var buf bytes.Buffer

	for _, e := range examples {
		rec := map[string]any{
			"messageId": e.MessageID,
			"features": map[string]any{
				"subject": e.Subject,
				"body":    e.Body,
			},
			"classification": map[string]any{
				"category1_type":            e.Type,
				"category2_sender_identity": e.SenderIdentity,
				"category3_context":         e.Context,
				"category4_handler":         e.Handler,
			},
		}

		data, err := codec.Default.Marshal(rec)
		if err != nil {
			return nil, err
		}

		buf.Write(data)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}
