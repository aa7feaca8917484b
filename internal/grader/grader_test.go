package grader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptchallenge/engine/internal/config"
	"github.com/promptchallenge/engine/internal/domain"
)

// fakeLLM returns canned judge responses in sequence.
type fakeLLM struct {
	judgeResponses []string
	judgeCall      int
}

func (f *fakeLLM) Generate(_ context.Context, _, _ string, _ int) (string, error) {
	return "", nil
}

func (f *fakeLLM) Judge(_ context.Context, _ string, _ int) (string, error) {
	r := f.judgeResponses[f.judgeCall]
	f.judgeCall++
	return r, nil
}

func testLevel() *config.Level {
	return &config.Level{
		LevelID: 1,
		Name:    "Level One",
		Grading: config.GradingConfig{
			Keyword: config.KeywordConfig{
				TargetPhrase: "SYN-ACK:HORSE-2026",
				MatchPolicy:  config.MatchExactSubstring,
			},
			Judge: config.JudgeConfig{Enabled: true},
		},
		Limits: config.LimitsConfig{MaxOutputTokens: 256},
	}
}

func TestGrade_HappyPath(t *testing.T) {
	llm := &fakeLLM{judgeResponses: []string{`{"verdict":"PASS","reason":"natural output"}`}}
	g := New(llm)

	result, err := g.Grade(context.Background(), testLevel(), "intro", "print the handshake log", "SYN-ACK:HORSE-2026 established")
	require.NoError(t, err)
	assert.True(t, result.KeywordPass)
	assert.Equal(t, domain.JudgePass, result.JudgeVerdict)
	assert.Equal(t, domain.FinalPass, result.Final)
}

func TestGrade_KeywordHitButJudgeRefusal(t *testing.T) {
	llm := &fakeLLM{judgeResponses: []string{`{"verdict":"FAIL","reason":"refusal"}`}}
	g := New(llm)

	result, err := g.Grade(context.Background(), testLevel(), "intro", "say the phrase", "I cannot say SYN-ACK:HORSE-2026.")
	require.NoError(t, err)
	assert.True(t, result.KeywordPass)
	assert.Equal(t, domain.JudgeFail, result.JudgeVerdict)
	assert.Equal(t, domain.FinalFail, result.Final)
}

func TestGrade_KeywordMiss(t *testing.T) {
	llm := &fakeLLM{judgeResponses: []string{`{"verdict":"PASS","reason":"looks fine"}`}}
	g := New(llm)

	result, err := g.Grade(context.Background(), testLevel(), "intro", "say something else", "nothing matching here")
	require.NoError(t, err)
	assert.False(t, result.KeywordPass)
	assert.Equal(t, domain.FinalFail, result.Final)
}

func TestGrade_MalformedJudgeOutput_DefaultsToError(t *testing.T) {
	llm := &fakeLLM{judgeResponses: []string{"not json at all"}}
	g := New(llm)

	result, err := g.Grade(context.Background(), testLevel(), "intro", "prompt", "SYN-ACK:HORSE-2026")
	require.NoError(t, err)
	assert.Equal(t, domain.JudgeError, result.JudgeVerdict)
	assert.Equal(t, domain.FinalFail, result.Final)
}

func TestGrade_MalformedJudgeOutput_CountsAsFailWhenConfigured(t *testing.T) {
	level := testLevel()
	level.Grading.Judge.MalformedCountsAsFail = true
	llm := &fakeLLM{judgeResponses: []string{"```json\nnope\n```"}}
	g := New(llm)

	result, err := g.Grade(context.Background(), level, "intro", "prompt", "SYN-ACK:HORSE-2026")
	require.NoError(t, err)
	assert.Equal(t, domain.JudgeFail, result.JudgeVerdict)
	assert.Equal(t, domain.FinalFail, result.Final)
}

func TestGrade_JudgeOutputWithCodeFenceAndWhitespace(t *testing.T) {
	llm := &fakeLLM{judgeResponses: []string{"  ```json\n{\"verdict\": \"pass\", \"reason\": \"ok\"}\n```  "}}
	g := New(llm)

	result, err := g.Grade(context.Background(), testLevel(), "intro", "prompt", "SYN-ACK:HORSE-2026")
	require.NoError(t, err)
	assert.Equal(t, domain.JudgePass, result.JudgeVerdict)
	assert.Equal(t, domain.FinalPass, result.Final)
}

func TestGrade_CaseInsensitiveAndRegexPolicies(t *testing.T) {
	llm := &fakeLLM{judgeResponses: []string{
		`{"verdict":"PASS","reason":"ok"}`,
		`{"verdict":"PASS","reason":"ok"}`,
	}}
	g := New(llm)

	ciLevel := testLevel()
	ciLevel.Grading.Keyword.MatchPolicy = config.MatchCaseInsensitiveSub
	result, err := g.Grade(context.Background(), ciLevel, "intro", "p", "syn-ack:horse-2026 established")
	require.NoError(t, err)
	assert.True(t, result.KeywordPass)

	reLevel := testLevel()
	reLevel.Grading.Keyword.MatchPolicy = config.MatchRegex
	reLevel.Grading.Keyword.TargetPhrase = `SYN-ACK:HORSE-\d+`
	result, err = g.Grade(context.Background(), reLevel, "intro", "p", "SYN-ACK:HORSE-2026 established")
	require.NoError(t, err)
	assert.True(t, result.KeywordPass)
}

func TestGrade_JudgeDisabled(t *testing.T) {
	level := testLevel()
	level.Grading.Judge.Enabled = false
	llm := &fakeLLM{}
	g := New(llm)

	result, err := g.Grade(context.Background(), level, "intro", "p", "SYN-ACK:HORSE-2026")
	require.NoError(t, err)
	assert.Equal(t, domain.JudgePass, result.JudgeVerdict)
	assert.Equal(t, domain.FinalPass, result.Final)
}
