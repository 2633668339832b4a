package history

// Controlled vocabularies for relevance scoring. Overlap between a new
// transcript and a candidate's stored themes/emotions is only counted over
// these terms, keeping scores stable across model phrasing changes.

var themeVocab = []string{
	"flight", "falling", "water", "ocean", "chase", "escape", "school",
	"exam", "work", "family", "childhood", "home", "travel", "journey",
	"death", "loss", "birth", "animals", "nature", "forest", "city",
	"darkness", "light", "maze", "door", "stairs", "vehicle", "teeth",
	"voice", "stranger", "crowd", "storm", "fire", "snow",
}

var emotionVocab = []string{
	"fear", "anxiety", "joy", "wonder", "calm", "peace", "anger",
	"frustration", "sadness", "grief", "confusion", "curiosity", "love",
	"longing", "shame", "guilt", "relief", "excitement", "dread",
	"loneliness", "hope", "nostalgia",
}
