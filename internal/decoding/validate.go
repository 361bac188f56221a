package decoding

// Validate checks the option rules that must hold before a batch is admitted.
// The first violation is returned as an *InvalidConfigurationError.
func (o Options) Validate() error {
	switch {
	case o.BeamSize < 1:
		return invalid("beam_size", "must be >= 1, got %d", o.BeamSize)
	case o.Patience < 1:
		return invalid("patience", "must be >= 1, got %g", o.Patience)
	case o.LengthPenalty < 0:
		return invalid("length_penalty", "must be >= 0, got %g", o.LengthPenalty)
	case o.RepetitionPenalty < 0:
		return invalid("repetition_penalty", "must be >= 0, got %g", o.RepetitionPenalty)
	case o.MaxLength < 1:
		return invalid("max_length", "must be >= 1, got %d", o.MaxLength)
	case o.MinLength < 0:
		return invalid("min_length", "must be >= 0, got %d", o.MinLength)
	case o.MinLength > o.MaxLength:
		return invalid("min_length", "%d exceeds max_length %d", o.MinLength, o.MaxLength)
	case o.NoRepeatNgramSize < 0:
		return invalid("no_repeat_ngram_size", "must be >= 0, got %d", o.NoRepeatNgramSize)
	case o.NoRepeatNgramSize > o.MaxLength:
		return invalid("no_repeat_ngram_size", "%d exceeds max_length %d", o.NoRepeatNgramSize, o.MaxLength)
	case o.NumHypotheses < 1:
		return invalid("num_hypotheses", "must be >= 1, got %d", o.NumHypotheses)
	case o.SamplingTopK < 0:
		return invalid("sampling_topk", "must be >= 0, got %d", o.SamplingTopK)
	case o.SamplingTopP <= 0 || o.SamplingTopP > 1:
		return invalid("sampling_topp", "must be in (0, 1], got %g", o.SamplingTopP)
	case o.SamplingTemperature < 0:
		return invalid("sampling_temperature", "must be >= 0, got %g", o.SamplingTemperature)
	case o.MinAlternativeExpansionProb < 0 || o.MinAlternativeExpansionProb > 1:
		return invalid("min_alternative_expansion_prob", "must be in [0, 1], got %g", o.MinAlternativeExpansionProb)
	}
	if o.BeamSize > 1 && o.SamplingTopK > 1 && o.SamplingTopP < 1 {
		return invalid("sampling_topk", "top-k %d with top-p %g cannot be combined with beam_size %d; beam search ignores sampling",
			o.SamplingTopK, o.SamplingTopP, o.BeamSize)
	}
	if !o.ReturnAlternatives && !o.IsSampling() && o.NumHypotheses > o.BeamSize {
		return invalid("num_hypotheses", "%d exceeds beam_size %d", o.NumHypotheses, o.BeamSize)
	}
	for i, seq := range o.SuppressSequences {
		if len(seq) == 0 {
			return invalid("suppress_sequences", "entry %d is empty", i)
		}
	}
	for _, tok := range o.EndToken.Tokens {
		if tok == "" {
			return invalid("end_token", "empty token string")
		}
	}
	for _, id := range o.EndToken.IDs {
		if id < 0 {
			return invalid("end_token", "negative id %d", id)
		}
	}
	return nil
}
