package ingest

import (
	"encoding/json"
	"strings"
)

// Index is a feature index as it appears in batch records. Upstream emits it
// as either a JSON number or a string; the store keys neurons on the string
// form to tolerate sparse, non-contiguous indices.
type Index string

// UnmarshalJSON accepts both `"311"` and `311`.
func (ix *Index) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*ix = Index(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*ix = Index(n.String())
	return nil
}

// ExplanationRecord is one line of an explanations batch file.
type ExplanationRecord struct {
	ModelID              string `json:"modelId"`
	Layer                string `json:"layer"`
	Index                Index  `json:"index"`
	Description          string `json:"description"`
	TypeName             string `json:"typeName"`
	ExplanationModelName string `json:"explanationModelName"`
}

// ActivationRecord is one line of an activations batch file: a sampled token
// sequence with per-token activation values for one feature.
type ActivationRecord struct {
	ModelID           string    `json:"modelId"`
	Layer             string    `json:"layer"`
	Index             Index     `json:"index"`
	Tokens            []string  `json:"tokens"`
	Values            []float64 `json:"values"`
	MaxValue          float64   `json:"maxValue"`
	MinValue          float64   `json:"minValue"`
	MaxValueTokenIndex int      `json:"maxValueTokenIndex"`
}

// FeatureRecord is one line of a features batch file: the precomputed summary
// statistics attached to a neuron.
type FeatureRecord struct {
	ModelID string `json:"modelId"`
	Layer   string `json:"layer"`
	Index   Index  `json:"index"`

	MaxActApprox               float64   `json:"maxActApprox"`
	HasVector                  bool      `json:"hasVector"`
	Vector                     []float64 `json:"vector"`
	VectorDefaultSteerStrength float64   `json:"vectorDefaultSteerStrength"`
	VectorLabel                *string   `json:"vectorLabel"`
	TopkCosSimIndices          []int     `json:"topkCosSimIndices"`
	TopkCosSimValues           []float64 `json:"topkCosSimValues"`

	NeuronAlignmentIndices []int     `json:"neuron_alignment_indices"`
	NeuronAlignmentValues  []float64 `json:"neuron_alignment_values"`
	NeuronAlignmentL1      []float64 `json:"neuron_alignment_l1"`

	CorrelatedNeuronsIndices  []int     `json:"correlated_neurons_indices"`
	CorrelatedNeuronsPearson  []float64 `json:"correlated_neurons_pearson"`
	CorrelatedNeuronsL1       []float64 `json:"correlated_neurons_l1"`
	CorrelatedFeaturesIndices []int     `json:"correlated_features_indices"`
	CorrelatedFeaturesPearson []float64 `json:"correlated_features_pearson"`
	CorrelatedFeaturesL1      []float64 `json:"correlated_features_l1"`

	NegStr    []string  `json:"neg_str"`
	NegValues []float64 `json:"neg_values"`
	PosStr    []string  `json:"pos_str"`
	PosValues []float64 `json:"pos_values"`

	FracNonzero              float64   `json:"frac_nonzero"`
	FreqHistDataBarHeights   []float64 `json:"freq_hist_data_bar_heights"`
	FreqHistDataBarValues    []float64 `json:"freq_hist_data_bar_values"`
	LogitsHistDataBarHeights []float64 `json:"logits_hist_data_bar_heights"`
	LogitsHistDataBarValues  []float64 `json:"logits_hist_data_bar_values"`
	DecoderWeightsDist       []float64 `json:"decoder_weights_dist"`

	HookName *string `json:"hookName"`
}
