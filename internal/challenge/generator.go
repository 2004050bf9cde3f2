package challenge

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/goodtune/braintrap/internal/storage"
)

// Archetype is a family of question shapes.
type Archetype string

const (
	Arithmetic Archetype = "arithmetic"
	Sequence   Archetype = "sequence"
	Pattern    Archetype = "pattern"
	MentalMath Archetype = "mental_math"
	Logic      Archetype = "logic"
	Countdown  Archetype = "countdown"
)

// Archetypes lists every archetype in selection order.
var Archetypes = []Archetype{Arithmetic, Sequence, Pattern, MentalMath, Logic, Countdown}

// Question is a generated problem and its integer answer.
type Question struct {
	Archetype  Archetype
	Difficulty storage.Difficulty
	Text       string
	Answer     int
}

type template func(r *rand.Rand) (string, int)

// Generator produces questions, never using the same archetype twice in a
// row. It is safe for concurrent use.
type Generator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	last Archetype
}

// NewGenerator creates a generator seeded from seed. A zero seed picks a
// random one.
func NewGenerator(seed uint64) *Generator {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate returns a question for the tier.
func (g *Generator) Generate(d storage.Difficulty) Question {
	g.mu.Lock()
	defer g.mu.Unlock()

	candidates := make([]Archetype, 0, len(Archetypes))
	for _, a := range Archetypes {
		if a != g.last {
			candidates = append(candidates, a)
		}
	}
	archetype := candidates[g.rng.IntN(len(candidates))]
	g.last = archetype

	templates := templatesFor(d)[archetype]
	text, answer := templates[g.rng.IntN(len(templates))](g.rng)
	return Question{Archetype: archetype, Difficulty: normalizeDifficulty(d), Text: text, Answer: answer}
}

func normalizeDifficulty(d storage.Difficulty) storage.Difficulty {
	switch d {
	case storage.DifficultyMedium, storage.DifficultyHard:
		return d
	default:
		return storage.DifficultyEasy
	}
}

func templatesFor(d storage.Difficulty) map[Archetype][]template {
	switch d {
	case storage.DifficultyHard:
		return hardTemplates
	case storage.DifficultyMedium:
		return mediumTemplates
	default:
		return easyTemplates
	}
}

// between returns a uniform int in [lo, hi].
func between(r *rand.Rand, lo, hi int) int {
	return lo + r.IntN(hi-lo+1)
}

// EASY: single-step addition and subtraction with friendly numbers.
var easyTemplates = map[Archetype][]template{
	Arithmetic: {
		func(r *rand.Rand) (string, int) {
			a, b := between(r, 1, 9)*5, between(r, 1, 9)*5
			return fmt.Sprintf("%d + %d", a, b), a + b
		},
		func(r *rand.Rand) (string, int) {
			base, sub := between(r, 2, 7)*10, between(r, 1, 9)
			return fmt.Sprintf("%d - %d", base, sub), base - sub
		},
	},
	Sequence: {
		func(r *rand.Rand) (string, int) {
			step := []int{2, 5, 10}[r.IntN(3)]
			start := between(r, 1, 5)
			return fmt.Sprintf("%d, %d, %d, ?", start, start+step, start+2*step), start + 3*step
		},
		func(r *rand.Rand) (string, int) {
			start := between(r, 10, 19)
			return fmt.Sprintf("%d, %d, %d, ?", start, start+1, start+2), start + 3
		},
	},
	Pattern: {
		func(r *rand.Rand) (string, int) {
			n := between(r, 5, 14) * 2
			return fmt.Sprintf("Half of %d = ?", n), n / 2
		},
		func(r *rand.Rand) (string, int) {
			n := between(r, 5, 24)
			return fmt.Sprintf("%d + %d = ?", n, n), 2 * n
		},
	},
	MentalMath: {
		func(r *rand.Rand) (string, int) {
			base, add := between(r, 2, 7)*10, between(r, 1, 9)
			return fmt.Sprintf("%d + %d", base, add), base + add
		},
		func(r *rand.Rand) (string, int) {
			coins := between(r, 3, 9)
			return fmt.Sprintf("%d coins of 5 cents = ? cents", coins), coins * 5
		},
	},
	Logic: {
		func(r *rand.Rand) (string, int) {
			age, years := between(r, 10, 15), between(r, 3, 7)
			return fmt.Sprintf("I am %d now. How old was I %d years ago?", age, years), age - years
		},
		func(r *rand.Rand) (string, int) {
			result := between(r, 10, 29)
			part := between(r, 5, result-3)
			return fmt.Sprintf("? + %d = %d", part, result), result - part
		},
	},
	Countdown: {
		func(r *rand.Rand) (string, int) {
			n := between(r, 20, 49)
			return fmt.Sprintf("%d - 10 = ?", n), n - 10
		},
		func(r *rand.Rand) (string, int) {
			start, back := between(r, 15, 29), between(r, 3, 7)
			return fmt.Sprintf("Count back %d from %d", back, start), start - back
		},
	},
}

// MEDIUM: multiplication, exact division and two-step expressions.
var mediumTemplates = map[Archetype][]template{
	Arithmetic: {
		func(r *rand.Rand) (string, int) {
			a, b := between(r, 2, 9), between(r, 2, 9)
			return fmt.Sprintf("%d × %d", a, b), a * b
		},
		func(r *rand.Rand) (string, int) {
			divisor, quotient := between(r, 2, 6), between(r, 3, 9)
			return fmt.Sprintf("%d ÷ %d", divisor*quotient, divisor), quotient
		},
		func(r *rand.Rand) (string, int) {
			a, b, c := between(r, 10, 19), between(r, 5, 9), between(r, 3, 7)
			return fmt.Sprintf("%d + %d - %d", a, b, c), a + b - c
		},
	},
	Sequence: {
		func(r *rand.Rand) (string, int) {
			start, step := between(r, 30, 49), between(r, 3, 6)
			return fmt.Sprintf("%d, %d, %d, ?", start, start-step, start-2*step), start - 3*step
		},
		func(r *rand.Rand) (string, int) {
			table := between(r, 2, 5)
			return fmt.Sprintf("%d, %d, %d, ?", table, 2*table, 3*table), 4 * table
		},
	},
	Pattern: {
		func(r *rand.Rand) (string, int) {
			n := between(r, 4, 9)
			return fmt.Sprintf("%d × %d = ?", n, n), n * n
		},
		func(r *rand.Rand) (string, int) {
			n := between(r, 5, 14)
			return fmt.Sprintf("(%d × 2) + 1 = ?", n), 2*n + 1
		},
	},
	MentalMath: {
		func(r *rand.Rand) (string, int) {
			base, near := between(r, 3, 6)*10, between(r, 8, 12)
			return fmt.Sprintf("%d + %d", base, near), base + near
		},
		func(r *rand.Rand) (string, int) {
			big, small := between(r, 30, 59), between(r, 10, 19)
			return fmt.Sprintf("%d - %d", big, small), big - small
		},
	},
	Logic: {
		func(r *rand.Rand) (string, int) {
			boxes, each := between(r, 3, 6), between(r, 4, 8)
			return fmt.Sprintf("%d boxes with %d in each. How many in total?", boxes, each), boxes * each
		},
		func(r *rand.Rand) (string, int) {
			people, each := between(r, 2, 5), between(r, 4, 9)
			return fmt.Sprintf("%d sweets shared by %d people. How many each?", people*each, people), each
		},
	},
	Countdown: {
		func(r *rand.Rand) (string, int) {
			start, steps := between(r, 40, 69), between(r, 2, 4)
			return fmt.Sprintf("%d - %d = ?", start, 5*steps), start - 5*steps
		},
		func(r *rand.Rand) (string, int) {
			n := between(r, 50, 89)
			return fmt.Sprintf("%d - 10 - 10 = ?", n), n - 20
		},
	},
}

// HARD: order of operations, percentages and multi-step reasoning.
var hardTemplates = map[Archetype][]template{
	Arithmetic: {
		func(r *rand.Rand) (string, int) {
			a, b, c := between(r, 5, 14), between(r, 2, 5), between(r, 2, 5)
			return fmt.Sprintf("%d + %d × %d", a, b, c), a + b*c
		},
		func(r *rand.Rand) (string, int) {
			divisor, quotient := between(r, 3, 7), between(r, 5, 11)
			return fmt.Sprintf("? ÷ %d = %d", divisor, quotient), divisor * quotient
		},
		func(r *rand.Rand) (string, int) {
			n := between(r, 2, 9) * 10
			return fmt.Sprintf("10%% of %d + 50%% of %d", n*10, n), n + n/2
		},
	},
	Sequence: {
		func(r *rand.Rand) (string, int) {
			a, b := between(r, 1, 4), between(r, 1, 4)
			c, d := a+b, a+2*b
			return fmt.Sprintf("%d, %d, %d, %d, ?", a, b, c, d), c + d
		},
		func(r *rand.Rand) (string, int) {
			start := []int{2, 3, 4}[r.IntN(3)]
			return fmt.Sprintf("%d, %d, %d, ?", start, start*2, start*4), start * 8
		},
	},
	Pattern: {
		func(r *rand.Rand) (string, int) {
			n := between(r, 6, 12)
			return fmt.Sprintf("%d² = ?", n), n * n
		},
		func(r *rand.Rand) (string, int) {
			tens, ones := between(r, 2, 7), between(r, 1, 8)
			return fmt.Sprintf("Reverse the digits of %d", tens*10+ones), ones*10 + tens
		},
	},
	MentalMath: {
		func(r *rand.Rand) (string, int) {
			base, adjust := between(r, 2, 4)*100, between(r, 11, 29)
			return fmt.Sprintf("%d - %d", base, adjust), base - adjust
		},
		func(r *rand.Rand) (string, int) {
			n := between(r, 5, 19)
			return fmt.Sprintf("(%d × 10) - %d = ?", n, n), 9 * n
		},
	},
	Logic: {
		func(r *rand.Rand) (string, int) {
			items, price := between(r, 3, 7), between(r, 5, 14)
			budget := items*price + between(r, 1, 20)
			return fmt.Sprintf("%d items at %d each from %d. Change?", items, price, budget), budget - items*price
		},
		func(r *rand.Rand) (string, int) {
			total := between(r, 50, 99)
			part := between(r, 20, total-10)
			return fmt.Sprintf("Had %d, spent %d, then doubled the rest. Total?", total, part), 2 * (total - part)
		},
	},
	Countdown: {
		func(r *rand.Rand) (string, int) {
			start, a, b := between(r, 60, 99), between(r, 10, 19), between(r, 5, 14)
			return fmt.Sprintf("%d - %d - %d", start, a, b), start - a - b
		},
		func(r *rand.Rand) (string, int) {
			n := between(r, 10, 24) * 4
			return fmt.Sprintf("%d ÷ 4 = ?", n), n / 4
		},
	},
}
