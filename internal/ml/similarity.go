package ml

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// SimilarityMatrix is an immutable item-item cosine similarity model. Both
// axes are labelled by product ID in ascending order.
type SimilarityMatrix struct {
	products []int64
	index    map[int64]int
	scores   *mat.SymDense
}

// ScoredProduct pairs a product with an accumulated similarity score.
type ScoredProduct struct {
	ProductID int64
	Score     float64
}

// NewSimilarityMatrix wraps scores labelled by products. Products must be
// strictly ascending and match the matrix dimension. The matrix is owned by
// the returned value and must not be modified afterwards.
func NewSimilarityMatrix(products []int64, scores *mat.SymDense) (*SimilarityMatrix, error) {
	if scores == nil {
		return nil, fmt.Errorf("similarity scores are nil")
	}
	if n := scores.SymmetricDim(); n != len(products) {
		return nil, fmt.Errorf("similarity matrix dimension %d does not match %d products", n, len(products))
	}

	index := make(map[int64]int, len(products))
	for i, id := range products {
		if i > 0 && products[i-1] >= id {
			return nil, fmt.Errorf("product ids must be strictly ascending, got %d after %d", id, products[i-1])
		}
		index[id] = i
	}

	ids := make([]int64, len(products))
	copy(ids, products)

	return &SimilarityMatrix{
		products: ids,
		index:    index,
		scores:   scores,
	}, nil
}

func (m *SimilarityMatrix) Len() int {
	return len(m.products)
}

// Products returns a copy of the product labels in ascending order.
func (m *SimilarityMatrix) Products() []int64 {
	ids := make([]int64, len(m.products))
	copy(ids, m.products)
	return ids
}

func (m *SimilarityMatrix) Contains(productID int64) bool {
	_, ok := m.index[productID]
	return ok
}

// Similarity returns the score of a pair, false if either product was not
// part of the training data.
func (m *SimilarityMatrix) Similarity(a, b int64) (float64, bool) {
	i, ok := m.index[a]
	if !ok {
		return 0, false
	}
	j, ok := m.index[b]
	if !ok {
		return 0, false
	}
	return m.scores.At(i, j), true
}

// SumSimilarities adds up the similarity columns of every seed known to the
// model and returns one entry per model product, in ascending product order.
// covered reports how many seeds contributed; when it is zero the scores are
// nil.
func (m *SimilarityMatrix) SumSimilarities(seeds []int64) (scores []ScoredProduct, covered int) {
	cols := make([]int, 0, len(seeds))
	seen := make(map[int64]struct{}, len(seeds))
	for _, id := range seeds {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if j, ok := m.index[id]; ok {
			cols = append(cols, j)
		}
	}
	if len(cols) == 0 {
		return nil, 0
	}

	scores = make([]ScoredProduct, len(m.products))
	for i, id := range m.products {
		var sum float64
		for _, j := range cols {
			sum += m.scores.At(i, j)
		}
		scores[i] = ScoredProduct{ProductID: id, Score: sum}
	}
	return scores, len(cols)
}

// RankBySimilarity orders scores by descending score, breaking ties by
// ascending product ID so the order is fully determined by the model.
func RankBySimilarity(scores []ScoredProduct) {
	sort.SliceStable(scores, func(a, b int) bool {
		if scores[a].Score != scores[b].Score {
			return scores[a].Score > scores[b].Score
		}
		return scores[a].ProductID < scores[b].ProductID
	})
}

// upperTriangle flattens the matrix row by row, diagonal included.
func (m *SimilarityMatrix) upperTriangle() []float64 {
	n := len(m.products)
	out := make([]float64, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out = append(out, m.scores.At(i, j))
		}
	}
	return out
}

func symFromUpperTriangle(n int, values []float64) (*mat.SymDense, error) {
	if want := n * (n + 1) / 2; len(values) != want {
		return nil, fmt.Errorf("expected %d similarity values for %d products, got %d", want, n, len(values))
	}
	if n == 0 {
		return nil, fmt.Errorf("similarity matrix has no products")
	}
	sym := mat.NewSymDense(n, nil)
	k := 0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, values[k])
			k++
		}
	}
	return sym, nil
}
