package embedding

import (
	"encoding/gob"
	"io"
	"math"
	"sync"
)

// BagOfTokensProvider is the simplest lexical provider: each vocabulary
// token is a dimension, weighted by raw term frequency (spec §4.6
// "Token index → weight; trivial").
type BagOfTokensProvider struct {
	mu    sync.RWMutex
	vocab *vocabIndex
}

// NewBagOfTokens constructs an untrained bag-of-tokens provider; call Fit
// before Embed.
func NewBagOfTokens() *BagOfTokensProvider {
	return &BagOfTokensProvider{vocab: newVocabIndex()}
}

func (p *BagOfTokensProvider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vocab.size()
}

func (p *BagOfTokensProvider) Fit(documents []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, doc := range documents {
		for _, tok := range tokenize(doc) {
			p.vocab.intern(tok)
		}
	}
	return nil
}

func (p *BagOfTokensProvider) Embed(text string) ([]float32, error) {
	p.mu.RLock()
	dim := p.vocab.size()
	p.mu.RUnlock()
	if dim == 0 {
		return fallbackEmbed(text, 1), nil
	}

	out := make([]float32, dim)
	for _, tok := range tokenize(text) {
		if idx, ok := p.vocab.indexOf(tok); ok {
			out[idx]++
		}
	}
	if isZero(out) {
		return fallbackEmbed(text, dim), nil
	}
	return l2Normalize(out), nil
}

type bagOfTokensSnapshot struct {
	Vocab []string
}

func (p *BagOfTokensProvider) Save(w io.Writer) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := bagOfTokensSnapshot{Vocab: p.vocab.snapshot()}
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return newProviderError("embedding.bag_of_tokens.save", err)
	}
	return nil
}

func (p *BagOfTokensProvider) Load(r io.Reader) error {
	var snap bagOfTokensSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return newProviderError("embedding.bag_of_tokens.load", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vocab.restore(snap.Vocab)
	return nil
}

// TFIDFProvider weighs each vocabulary token by term-frequency times
// inverse document frequency, grounded on the teacher's TFIDFEncoder
// (log(N/df) IDF, optional sublinear TF scaling).
type TFIDFProvider struct {
	mu          sync.RWMutex
	vocab       *vocabIndex
	idf         map[string]float64
	totalDocs   int
	sublinearTF bool
}

// NewTFIDF constructs an untrained TF-IDF provider.
func NewTFIDF(sublinearTF bool) *TFIDFProvider {
	return &TFIDFProvider{vocab: newVocabIndex(), idf: make(map[string]float64), sublinearTF: sublinearTF}
}

func (p *TFIDFProvider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vocab.size()
}

func (p *TFIDFProvider) Fit(documents []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalDocs = len(documents)
	docFreq := make(map[string]int)
	for _, doc := range documents {
		seen := make(map[string]bool)
		for _, tok := range tokenize(doc) {
			p.vocab.intern(tok)
			if !seen[tok] {
				seen[tok] = true
				docFreq[tok]++
			}
		}
	}
	p.idf = make(map[string]float64, len(docFreq))
	for tok, df := range docFreq {
		p.idf[tok] = math.Log(float64(p.totalDocs) / float64(df))
	}
	return nil
}

func (p *TFIDFProvider) Embed(text string) ([]float32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dim := p.vocab.size()
	if dim == 0 {
		return fallbackEmbed(text, 1), nil
	}

	termFreq := make(map[string]int)
	for _, tok := range tokenize(text) {
		termFreq[tok]++
	}

	out := make([]float32, dim)
	for tok, tf := range termFreq {
		idx, ok := p.vocab.indexOf(tok)
		idf, known := p.idf[tok]
		if !ok || !known {
			continue
		}
		tfVal := float64(tf)
		if p.sublinearTF {
			tfVal = 1 + math.Log(tfVal)
		}
		out[idx] = float32(tfVal * idf)
	}
	if isZero(out) {
		return fallbackEmbed(text, dim), nil
	}
	return l2Normalize(out), nil
}

type tfidfSnapshot struct {
	Vocab       []string
	IDF         map[string]float64
	TotalDocs   int
	SublinearTF bool
}

func (p *TFIDFProvider) Save(w io.Writer) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := tfidfSnapshot{Vocab: p.vocab.snapshot(), IDF: p.idf, TotalDocs: p.totalDocs, SublinearTF: p.sublinearTF}
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return newProviderError("embedding.tfidf.save", err)
	}
	return nil
}

func (p *TFIDFProvider) Load(r io.Reader) error {
	var snap tfidfSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return newProviderError("embedding.tfidf.load", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vocab.restore(snap.Vocab)
	p.idf = snap.IDF
	p.totalDocs = snap.TotalDocs
	p.sublinearTF = snap.SublinearTF
	return nil
}

// BM25Provider is TF-IDF with saturation and document-length
// normalization (spec §4.6 defaults k1=1.5, b=0.75). Grounded on the
// teacher's BM25Encoder, with the default k1 changed from the teacher's
// 1.2 to the spec's 1.5, and with the teacher's historical bug fixed: the
// teacher never re-persisted the vocabulary after Fit mutated it in
// place, so a restart between Fit and the next snapshot silently lost new
// terms. Here every Fit call is immediately followed by an explicit dirty
// marker the owning collection must snapshot before acknowledging the
// call (see Dirty; a successful Save or Load clears the marker).
type BM25Provider struct {
	mu        sync.RWMutex
	vocab     *vocabIndex
	idf       map[string]float64
	docFreq   map[string]int
	totalDocs int
	avgDocLen float64
	k1        float64
	b         float64
	dirty     bool
}

// NewBM25 constructs a BM25 provider with the spec's default parameters.
func NewBM25() *BM25Provider {
	return NewBM25WithParams(1.5, 0.75)
}

// NewBM25WithParams constructs a BM25 provider with explicit k1/b.
func NewBM25WithParams(k1, b float64) *BM25Provider {
	return &BM25Provider{
		vocab: newVocabIndex(), idf: make(map[string]float64), docFreq: make(map[string]int),
		k1: k1, b: b,
	}
}

func (p *BM25Provider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vocab.size()
}

// Dirty reports whether provider state has been mutated by Fit since the
// last Save or Load. Fit only sets the flag and writes nothing; the owning
// collection checks it at the end of each InsertText and, when it is set,
// writes embedding_state.bin before returning instead of waiting for the
// next scheduled auto-save.
func (p *BM25Provider) Dirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirty
}

func (p *BM25Provider) Fit(documents []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalDocs = len(documents)
	p.docFreq = make(map[string]int)
	termDocCount := make(map[string]int)
	totalLen := 0.0

	for _, doc := range documents {
		terms := tokenize(doc)
		totalLen += float64(len(terms))
		seen := make(map[string]bool)
		for _, tok := range terms {
			p.vocab.intern(tok)
			if !seen[tok] {
				seen[tok] = true
				termDocCount[tok]++
			}
		}
	}

	p.idf = make(map[string]float64, len(termDocCount))
	for tok, df := range termDocCount {
		p.docFreq[tok] = df
		dfF := float64(df)
		p.idf[tok] = math.Log((float64(p.totalDocs)-dfF+0.5)/(dfF+0.5) + 1)
	}
	if p.totalDocs > 0 {
		p.avgDocLen = totalLen / float64(p.totalDocs)
	}
	p.dirty = true
	return nil
}

func (p *BM25Provider) Embed(text string) ([]float32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dim := p.vocab.size()
	if dim == 0 {
		return fallbackEmbed(text, 1), nil
	}

	terms := tokenize(text)
	docLen := float64(len(terms))
	if docLen == 0 || p.avgDocLen == 0 {
		return fallbackEmbed(text, dim), nil
	}

	termFreq := make(map[string]int)
	for _, tok := range terms {
		termFreq[tok]++
	}

	out := make([]float32, dim)
	for tok, tf := range termFreq {
		idx, ok := p.vocab.indexOf(tok)
		if !ok {
			continue
		}
		idf, known := p.idf[tok]
		if !known {
			idf = 1.0
		}
		numerator := float64(tf) * (p.k1 + 1)
		denominator := float64(tf) + p.k1*(1-p.b+p.b*(docLen/p.avgDocLen))
		out[idx] = float32(idf * (numerator / denominator))
	}
	if isZero(out) {
		return fallbackEmbed(text, dim), nil
	}
	return l2Normalize(out), nil
}

type bm25Snapshot struct {
	Vocab     []string
	IDF       map[string]float64
	DocFreq   map[string]int
	TotalDocs int
	AvgDocLen float64
	K1, B     float64
}

func (p *BM25Provider) Save(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := bm25Snapshot{
		Vocab: p.vocab.snapshot(), IDF: p.idf, DocFreq: p.docFreq,
		TotalDocs: p.totalDocs, AvgDocLen: p.avgDocLen, K1: p.k1, B: p.b,
	}
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return newProviderError("embedding.bm25.save", err)
	}
	p.dirty = false
	return nil
}

func (p *BM25Provider) Load(r io.Reader) error {
	var snap bm25Snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return newProviderError("embedding.bm25.load", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vocab.restore(snap.Vocab)
	p.idf = snap.IDF
	p.docFreq = snap.DocFreq
	p.totalDocs = snap.TotalDocs
	p.avgDocLen = snap.AvgDocLen
	p.k1 = snap.K1
	p.b = snap.B
	p.dirty = false
	return nil
}
