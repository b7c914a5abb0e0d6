package app

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"lms-activity-service/internal/domain"
)

type fruit struct {
	name  string
	emoji string
}

type word struct {
	text    string
	missing string
}

type color struct {
	name string
	code string
}

var fruits = []fruit{
	{"Apples", "🍎"},
	{"Bananas", "🍌"},
	{"Oranges", "🍊"},
	{"Grapes", "🍇"},
	{"Strawberries", "🍓"},
	{"Watermelons", "🍉"},
	{"Cherries", "🍒"},
	{"Peaches", "🍑"},
	{"Pineapples", "🍍"},
	{"Lemons", "🍋"},
}

var words = []word{
	{"apple", "p"},
	{"banana", "n"},
	{"grape", "a"},
	{"orange", "g"},
	{"peach", "c"},
	{"cherry", "r"},
	{"melon", "o"},
	{"kiwi", "w"},
	{"mango", "g"},
	{"lemon", "m"},
}

var colors = []color{
	{"Red", "#FF0000"},
	{"Blue", "#0000FF"},
	{"Green", "#008000"},
	{"Yellow", "#FFFF00"},
	{"Purple", "#800080"},
	{"Orange", "#FFA500"},
	{"Pink", "#FFC0CB"},
	{"Cyan", "#00FFFF"},
	{"Brown", "#A52A2A"},
	{"Gray", "#808080"},
}

const maxFruitCount = 10

// QuestionSource builds question sets and shuffles options. Safe for concurrent use.
type QuestionSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionSource() *QuestionSource {
	return NewSeededQuestionSource(time.Now().UnixNano())
}

// NewSeededQuestionSource makes question sets reproducible.
func NewSeededQuestionSource(seed int64) *QuestionSource {
	return &QuestionSource{rnd: rand.New(rand.NewSource(seed))}
}

// Build returns the ordered question set for a variant. Its length is the size of the variant's reference list.
func (s *QuestionSource) Build(variant domain.Variant) ([]domain.QuestionItem, error) {
	switch variant {
	case domain.VariantCountTheFruit:
		return s.countTheFruit(), nil
	case domain.VariantFindMissingLetter:
		return findTheMissingLetter(), nil
	case domain.VariantNameTheColor:
		return nameTheColor(), nil
	case domain.VariantUnknown:
		return nil, domain.ErrUnknownVariant
	default:
		return nil, domain.ErrUnknownVariant
	}
}

// Shuffle returns a shuffled copy of options.
func (s *QuestionSource) Shuffle(options []string) []string {
	if options == nil {
		return nil
	}
	out := make([]string, len(options))
	copy(out, options)
	s.mu.Lock()
	s.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	s.mu.Unlock()
	return out
}

func (s *QuestionSource) countTheFruit() []domain.QuestionItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.QuestionItem, 0, len(fruits))
	for _, f := range fruits {
		count := s.rnd.Intn(maxFruitCount) + 1
		items = append(items, domain.QuestionItem{
			Prompt: domain.Prompt{
				Kind:  domain.PromptCount,
				Label: f.name,
				Emoji: f.emoji,
				Count: count,
			},
			CorrectAnswer: strconv.Itoa(count),
			Numeric:       true,
		})
	}
	return items
}

func findTheMissingLetter() []domain.QuestionItem {
	items := make([]domain.QuestionItem, 0, len(words))
	for _, w := range words {
		letter := w.missing[0]
		items = append(items, domain.QuestionItem{
			Prompt: domain.Prompt{
				Kind:  domain.PromptWord,
				Label: strings.Replace(w.text, w.missing, "_", 1),
			},
			CorrectAnswer: w.missing,
			Options:       []string{w.missing, string(rune(letter + 1)), string(rune(letter - 1))},
		})
	}
	return items
}

func nameTheColor() []domain.QuestionItem {
	names := make([]string, 0, len(colors))
	for _, c := range colors {
		names = append(names, c.name)
	}

	items := make([]domain.QuestionItem, 0, len(colors))
	for _, c := range colors {
		options := make([]string, len(names))
		copy(options, names)
		items = append(items, domain.QuestionItem{
			Prompt:        domain.Prompt{Kind: domain.PromptSwatch, Color: c.code},
			CorrectAnswer: c.name,
			Options:       options,
		})
	}
	return items
}
