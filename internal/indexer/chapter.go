package indexer

import "regexp"

// FrontMatterChapter labels chunks that appear before the first chapter.
const FrontMatterChapter = "Front Matter"

// chapterPattern matches "Chapter 3" and "**Chapter 3**" anywhere in a heading,
// the form PDF-to-markdown converters emit regardless of heading depth.
var chapterPattern = regexp.MustCompile(`\*{0,2}Chapter\s+(\d+)\*{0,2}`)

type chapterState int

const (
	stateFrontMatter chapterState = iota
	stateInChapter
	stateInNumberedChapter
)

func (s chapterState) String() string {
	switch s {
	case stateInChapter:
		return "in_chapter"
	case stateInNumberedChapter:
		return "in_numbered_chapter"
	default:
		return "front_matter"
	}
}

// chapterTracker assigns chapter labels while walking headings in document order.
//
// Transitions, checked in order for each heading:
//  1. text matches chapterPattern: chapter becomes "Chapter <N>" and its
//     heading depth is remembered (state in_numbered_chapter)
//  2. level <= topLevel: chapter becomes the heading text (state in_chapter),
//     except inside a numbered chapter, where only headings at or above the
//     remembered depth end it
//  3. otherwise the chapter is unchanged
//
// A topLevel of 0 disables rule 2.
type chapterTracker struct {
	topLevel int
	state    chapterState
	depth    int // Heading level of the current numbered chapter
	label    string
}

func newChapterTracker(topLevel int) *chapterTracker {
	return &chapterTracker{
		topLevel: topLevel,
		state:    stateFrontMatter,
		label:    FrontMatterChapter,
	}
}

// Current returns the chapter in effect.
func (t *chapterTracker) Current() string {
	return t.label
}

// Observe feeds one heading to the tracker and returns the chapter in effect after it.
func (t *chapterTracker) Observe(level int, heading string) string {
	if m := chapterPattern.FindStringSubmatch(heading); m != nil {
		t.state = stateInNumberedChapter
		t.depth = level
		t.label = "Chapter " + m[1]
		return t.label
	}

	if level <= 0 || level > t.topLevel || heading == "" {
		return t.label
	}
	if t.state == stateInNumberedChapter && level > t.depth {
		return t.label
	}
	t.state = stateInChapter
	t.depth = 0
	t.label = heading
	return t.label
}
