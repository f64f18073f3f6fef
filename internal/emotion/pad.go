package emotion

// padVectors is the fixed linear map emotion_label -> (pleasure, arousal,
// dominance) used by §4.1 step (3). Values are conventional placements on
// the Mehrabian PAD circumplex for each taxonomy label.
var padVectors = map[Label]PAD{
	Admiration:     {Pleasure: 0.6, Arousal: 0.3, Dominance: 0.1},
	Amusement:      {Pleasure: 0.7, Arousal: 0.5, Dominance: 0.2},
	Anger:          {Pleasure: -0.6, Arousal: 0.7, Dominance: 0.5},
	Annoyance:      {Pleasure: -0.4, Arousal: 0.4, Dominance: 0.2},
	Approval:       {Pleasure: 0.5, Arousal: 0.1, Dominance: 0.2},
	Caring:         {Pleasure: 0.5, Arousal: 0.2, Dominance: 0.1},
	Confusion:      {Pleasure: -0.2, Arousal: 0.3, Dominance: -0.4},
	Curiosity:      {Pleasure: 0.3, Arousal: 0.4, Dominance: 0.0},
	Desire:         {Pleasure: 0.4, Arousal: 0.5, Dominance: 0.1},
	Disappointment: {Pleasure: -0.5, Arousal: -0.1, Dominance: -0.2},
	Disapproval:    {Pleasure: -0.4, Arousal: 0.1, Dominance: 0.1},
	Disgust:        {Pleasure: -0.7, Arousal: 0.3, Dominance: 0.2},
	Embarrassment:  {Pleasure: -0.3, Arousal: 0.4, Dominance: -0.5},
	Excitement:     {Pleasure: 0.7, Arousal: 0.8, Dominance: 0.3},
	Fear:           {Pleasure: -0.6, Arousal: 0.7, Dominance: -0.6},
	Gratitude:      {Pleasure: 0.7, Arousal: 0.2, Dominance: 0.1},
	Grief:          {Pleasure: -0.8, Arousal: -0.3, Dominance: -0.5},
	Joy:            {Pleasure: 0.8, Arousal: 0.5, Dominance: 0.3},
	Love:           {Pleasure: 0.8, Arousal: 0.4, Dominance: 0.2},
	Nervousness:    {Pleasure: -0.4, Arousal: 0.6, Dominance: -0.4},
	Optimism:       {Pleasure: 0.6, Arousal: 0.3, Dominance: 0.3},
	Pride:          {Pleasure: 0.6, Arousal: 0.3, Dominance: 0.5},
	Realization:    {Pleasure: 0.1, Arousal: 0.3, Dominance: 0.1},
	Relief:         {Pleasure: 0.5, Arousal: -0.3, Dominance: 0.2},
	Remorse:        {Pleasure: -0.5, Arousal: -0.1, Dominance: -0.3},
	Sadness:        {Pleasure: -0.7, Arousal: -0.3, Dominance: -0.4},
	Surprise:       {Pleasure: 0.1, Arousal: 0.7, Dominance: -0.1},
	Neutral:        {Pleasure: 0.0, Arousal: 0.0, Dominance: 0.0},
}

// padFromDistribution computes pad = sum(distribution[l] * padVectors[l]),
// §4.1 step (3).
func padFromDistribution(d Distribution) PAD {
	var out PAD
	for l, p := range d {
		v := padVectors[l]
		out.Pleasure += p * v.Pleasure
		out.Arousal += p * v.Arousal
		out.Dominance += p * v.Dominance
	}
	return out
}
