package casegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/MedSynth/internal/models"
	"github.com/BTreeMap/MedSynth/internal/normalize"
	"github.com/BTreeMap/MedSynth/internal/store"
	"github.com/BTreeMap/MedSynth/internal/testutil"
	"github.com/BTreeMap/MedSynth/internal/util"
	"github.com/BTreeMap/MedSynth/internal/validate"
)

const (
	profileMarker  = "가상의 환자 프로필"
	dialogueMarker = "의료 문진 시뮬레이터"
	summaryMarker  = "'요약 및 권고(summary)'"
)

const validProfile = `{"profile": {"age": 45, "gender": "M", "history": "고혈압"}, "symptoms": {"chief_complaint": "복통", "severity": 6}, "notes": "추가 정보"}`

const validDialogue = `{"dialogue": [
  {"role": "assistant", "thought": "주호소", "intent": "onset", "content": "언제부터 아프셨어요? 어디가 아프세요?"},
  {"role": "user", "content": "어제부터요."},
  {"role": "assistant", "thought": "과거력", "intent": "history", "content": "앓고 계신 질환이 있나요?"},
  {"role": "user", "content": "고혈압이 있어요."},
  {"role": "assistant", "thought": "정리", "intent": "Summary", "content": "어제부터 복통이 있고 고혈압이 있으시군요."}
]}`

const endsWithUserDialogue = `[
  {"role": "assistant", "thought": "주호소", "intent": "onset", "content": "언제부터 아프셨어요?"},
  {"role": "user", "content": "어제부터요."}
]`

const fencedEndsWithUser = "```json\n" + endsWithUserDialogue + "\n```"

const summaryTurn = `{"role": "assistant", "thought": "종합", "intent": "summary", "content": "어제부터 아프셨군요."}`

// router answers by prompt type. Missing entries fall through to the script.
func router(profile, dialogue, summary string) func(string) (string, bool) {
	return func(prompt string) (string, bool) {
		switch {
		case strings.Contains(prompt, summaryMarker):
			return summary, true
		case strings.Contains(prompt, profileMarker):
			return profile, true
		case strings.Contains(prompt, dialogueMarker):
			return dialogue, true
		}
		return "", false
	}
}

func seedScenario(complaint string) models.Scenario {
	return models.Scenario{Category: "소화기내과", Complaint: complaint, Risk: models.RiskMedium, DiagnosisGuess: "위염"}
}

func writeSeeds(t *testing.T, dir string, complaints ...string) string {
	t.Helper()
	var items []models.Scenario
	for _, c := range complaints {
		items = append(items, seedScenario(c))
	}
	return testutil.WriteFile(t, dir, "scenarios.json", string(testutil.MustMarshalJSON(t, items)))
}

func TestLoadSeeds(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenarios.json", `[
	  {"category": "외과", "complaint": "배가 아파요", "risk": "high", "diagnosis_guess": "충수염"},
	  {"category": "내과", "complaint": "배가  아파요!", "risk": "low", "diagnosis_guess": "위염"},
	  {"category": "외과", "complaint": "!!!", "risk": "low", "diagnosis_guess": "x"},
	  {"category": "외과", "risk": "low"},
	  {"category": "외과", "complaint": 42},
	  "stray",
	  {"category": "안과", "complaint": "눈이 아파요", "risk": 3, "diagnosis_guess": "결막염"}
	]`)
	seeds, err := LoadSeeds(path, util.NewRand(1, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("expected 2 unique seeds, got %d", len(seeds))
	}
	byKey := map[string]Seed{}
	for _, s := range seeds {
		byKey[s.Key] = s
	}
	first, ok := byKey[normalize.Key("배가 아파요")]
	if !ok || first.Scenario.Category != "외과" {
		t.Errorf("expected the first duplicate to win, got %+v", first)
	}
	if eye := byKey[normalize.Key("눈이 아파요")]; eye.Scenario.Risk != "" || eye.Scenario.Extra["risk"] != 3.0 {
		t.Errorf("non-string risk should be kept raw, got %q / %v", eye.Scenario.Risk, eye.Scenario.Extra)
	}
}

func TestLoadSeedsShuffleIsSeeded(t *testing.T) {
	dir := t.TempDir()
	var complaints []string
	for i := 0; i < 20; i++ {
		complaints = append(complaints, fmt.Sprintf("증상 %d 번이에요", i))
	}
	path := writeSeeds(t, dir, complaints...)

	order := func(seed uint64) []string {
		seeds, err := LoadSeeds(path, util.NewRand(seed, true))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var keys []string
		for _, s := range seeds {
			keys = append(keys, s.Key)
		}
		return keys
	}
	if !slices.Equal(order(42), order(42)) {
		t.Error("expected identical order for the same seed")
	}
}

func TestLoadSeedsErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadSeeds(filepath.Join(dir, "missing.json"), util.NewRand(1, true)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	obj := testutil.WriteFile(t, dir, "obj.json", `{"complaint": "배가 아파요"}`)
	if _, err := LoadSeeds(obj, util.NewRand(1, true)); !errors.Is(err, ErrSeedsNotList) {
		t.Errorf("expected ErrSeedsNotList, got %v", err)
	}
	broken := testutil.WriteFile(t, dir, "broken.json", `[{"complaint": `)
	if _, err := LoadSeeds(broken, util.NewRand(1, true)); err == nil || errors.Is(err, ErrSeedsNotList) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestPrompts(t *testing.T) {
	p := BuildProfilePrompt(seedScenario("속이 쓰려요"))
	for _, want := range []string{"- 진료과: 소화기내과", "- 주호소: 속이 쓰려요", "- 위험도: medium (위염)", "위험도 'medium'"} {
		if !strings.Contains(p, want) {
			t.Errorf("profile prompt missing %q", want)
		}
	}

	styles := PickStyles(util.NewRand(1, true))
	if !slices.Contains(DoctorStyles, styles.Doctor) || !slices.Contains(UserStyles, styles.User) {
		t.Errorf("unexpected styles %+v", styles)
	}
	d := BuildDialoguePrompt(`{"profile": {}}`, styles)
	if !strings.Contains(d, "- 의사 스타일: "+styles.Doctor) || !strings.Contains(d, `{"profile": {}}`) {
		t.Errorf("dialogue prompt not filled:\n%s", d)
	}
	if strings.Contains(d, "{profile_json}") || strings.Contains(p, "{category}") {
		t.Error("placeholders must be replaced")
	}
}

func newProcessor(gen TextGenerator) *Processor {
	return NewProcessor(gen, DefaultProfileTemperature, DefaultDialogueTemperature, 0.3, util.NewRand(1, true))
}

func TestProcessSuccess(t *testing.T) {
	gen := testutil.NewScriptedGenerator()
	gen.Respond = router(testutil.Fenced(validProfile), testutil.Fenced(validDialogue), "")

	c, outcome := newProcessor(gen).Process(context.Background(), 7, seedScenario("배가 아파요"))
	if outcome != OutcomeOK {
		t.Fatalf("expected ok, got %s", outcome)
	}
	if c.CaseID != 7 || c.SeedInfo.Complaint != "배가 아파요" {
		t.Errorf("unexpected case header %+v", c)
	}
	if got := c.Conversation.Dialogue[0].Content; got != "언제부터 아프셨어요?" {
		t.Errorf("expected multi-question turn sanitized, got %q", got)
	}
	if c.PatientProfile.Extra["notes"] != "추가 정보" {
		t.Errorf("expected extra profile keys preserved, got %v", c.PatientProfile.Extra)
	}

	calls := gen.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(calls))
	}
	if calls[0].Temperature != DefaultProfileTemperature || calls[1].Temperature != DefaultDialogueTemperature {
		t.Errorf("unexpected temperatures %v, %v", calls[0].Temperature, calls[1].Temperature)
	}
	if !strings.Contains(calls[1].Prompt, "\"age\": 45") {
		t.Errorf("dialogue prompt should embed the indented profile:\n%s", calls[1].Prompt)
	}

	for i, turn := range c.Conversation.Dialogue {
		if turn.Role == models.RoleAssistant && validate.IsMultiQuestion(turn.Content) {
			t.Errorf("turn %d still asks several questions", i)
		}
	}
}

func TestProcessAppendsSummary(t *testing.T) {
	gen := testutil.NewScriptedGenerator()
	gen.Respond = router(validProfile, fencedEndsWithUser, "요약: "+summaryTurn)

	c, outcome := newProcessor(gen).Process(context.Background(), 1, seedScenario("배가 아파요"))
	if outcome != OutcomeOK {
		t.Fatalf("expected ok after summary repair, got %s", outcome)
	}
	if n := len(c.Conversation.Dialogue); n != 3 {
		t.Errorf("expected 3 turns, got %d", n)
	}
	if calls := gen.Calls(); len(calls) != 3 || calls[2].Temperature != 0.3 {
		t.Errorf("expected 3 calls with repair temperature last, got %+v", calls)
	}
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name     string
		profile  string
		dialogue string
		summary  string
		want     string
		calls    int
	}{
		{"empty profile", "", validDialogue, "", OutcomeProfileStruct, 1},
		{"profile missing symptoms", `{"profile": {"age": 3}}`, validDialogue, "", OutcomeProfileStruct, 1},
		{"dialogue unparseable", validProfile, "대화를 만들 수 없습니다", "", "dialogue_no_dialogue_key", 2},
		{"dialogue wrong key", validProfile, `{"turns": []}`, "", "dialogue_no_dialogue_key", 2},
		{"dialogue starts with user", validProfile, `{"dialogue": [{"role": "user", "content": "안녕하세요"}, {"role": "assistant", "thought": "t", "intent": "summary", "content": "네"}]}`, "", "dialogue_turn_mismatch_expected_assistant", 2},
		{"summary unparseable", validProfile, fencedEndsWithUser, "요약 불가", "dialogue_ends_with_user", 3},
		{"summary lacks intent", validProfile, fencedEndsWithUser, `{"role": "assistant", "content": "정리"}`, "dialogue_assist_missing_fields", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := testutil.NewScriptedGenerator()
			gen.Respond = router(tt.profile, tt.dialogue, tt.summary)
			_, outcome := newProcessor(gen).Process(context.Background(), 1, seedScenario("배가 아파요"))
			if outcome != tt.want {
				t.Errorf("expected %s, got %s", tt.want, outcome)
			}
			if n := len(gen.Calls()); n != tt.calls {
				t.Errorf("expected %d model calls, got %d", tt.calls, n)
			}
		})
	}
}

func newTestGenerator(t *testing.T, gen TextGenerator, dir string, opts ...Option) *Generator {
	t.Helper()
	base := []Option{
		WithInputPath(filepath.Join(dir, "scenarios.json")),
		WithOutputPath(filepath.Join(dir, "out", "cases.jsonl")),
		WithRand(util.NewRand(DefaultRandomSeed, true)),
		WithPacing(0, 0, DefaultCooldownAfter),
	}
	g := NewGenerator(gen, append(base, opts...)...)
	g.sleep = func(context.Context, time.Duration) {}
	return g
}

func okGenerator() *testutil.ScriptedGenerator {
	gen := testutil.NewScriptedGenerator()
	gen.Respond = router(validProfile, validDialogue, summaryTurn)
	return gen
}

func readCases(t *testing.T, path string) []models.Case {
	t.Helper()
	var cases []models.Case
	for _, line := range testutil.ReadLines(t, path) {
		var c models.Case
		testutil.MustUnmarshalJSON(t, []byte(line), &c)
		cases = append(cases, c)
	}
	return cases
}

func TestGeneratorRun(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, "배가 아파요", "머리가 아파요", "기침이 나요", "배가 아파요!")

	res, err := newTestGenerator(t, okGenerator(), dir).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Seeds != 3 || res.Success != 3 || res.StartID != 1 || res.NextID != 4 {
		t.Errorf("unexpected result %+v", res)
	}

	cases := readCases(t, filepath.Join(dir, "out", "cases.jsonl"))
	if len(cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(cases))
	}
	keys := map[string]bool{}
	for i, c := range cases {
		if c.CaseID != i+1 {
			t.Errorf("expected contiguous ids, case %d has id %d", i, c.CaseID)
		}
		keys[normalize.Key(c.SeedInfo.Complaint)] = true
		if r := validate.Dialogue(c.Conversation); r != validate.ReasonOK {
			t.Errorf("logged case %d fails validation: %s", c.CaseID, r)
		}
	}
	if len(keys) != 3 {
		t.Errorf("expected distinct seed keys, got %v", keys)
	}
}

func TestGeneratorResumes(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, "배가 아파요", "머리가 아파요", "기침이 나요")
	logPath := filepath.Join(dir, "out", "cases.jsonl")

	var prior []string
	for i, c := range []string{"배가 아파요", "기침이 나요"} {
		b, _ := json.Marshal(map[string]any{"case_id": i + 4, "seed_info": map[string]any{"complaint": c}})
		prior = append(prior, string(b))
	}
	testutil.WriteFile(t, filepath.Join(dir, "out"), "cases.jsonl", strings.Join(prior, "\n")+"\n")

	gen := okGenerator()
	res, err := newTestGenerator(t, gen, dir).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StartID != 6 || res.Success != 1 || res.Stats[StatSkipDone] != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	cases := readCases(t, logPath)
	if len(cases) != 3 || cases[2].CaseID != 6 || cases[2].SeedInfo.Complaint != "머리가 아파요" {
		t.Errorf("expected only the pending seed appended as case 6, got %+v", cases[len(cases)-1])
	}

	again, err := newTestGenerator(t, gen, dir).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Success != 0 || again.Stats[StatSkipDone] != 3 {
		t.Errorf("expected a no-op rerun, got %+v", again)
	}
}

func TestGeneratorOverwrite(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, "배가 아파요")
	testutil.WriteFile(t, filepath.Join(dir, "out"), "cases.jsonl", `{"case_id": 9, "seed_info": {"complaint": "배가 아파요"}}`+"\n")

	res, err := newTestGenerator(t, okGenerator(), dir, WithOverwrite(true)).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := readCases(t, filepath.Join(dir, "out", "cases.jsonl"))
	if res.Success != 1 || len(cases) != 1 || cases[0].CaseID != 1 {
		t.Errorf("expected a fresh log starting at 1, got %+v / %d cases", res, len(cases))
	}
}

func TestGeneratorMaxCases(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, "배가 아파요", "머리가 아파요", "기침이 나요")

	res, err := newTestGenerator(t, okGenerator(), dir, WithMaxCases(2)).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success != 2 || len(readCases(t, filepath.Join(dir, "out", "cases.jsonl"))) != 2 {
		t.Errorf("expected the cap to stop after 2 cases, got %+v", res)
	}
}

func TestGeneratorCountsFailures(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, "배가 아파요", "머리가 아파요")

	gen := testutil.NewScriptedGenerator()
	gen.Respond = router("", validDialogue, "")
	res, err := newTestGenerator(t, gen, dir).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success != 0 || res.Stats[OutcomeProfileStruct] != 2 || res.NextID != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestGeneratorStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, "배가 아파요", "머리가 아파요", "기침이 나요")

	ctx, cancel := context.WithCancel(context.Background())
	g := newTestGenerator(t, okGenerator(), dir)
	g.sleep = func(context.Context, time.Duration) { cancel() }

	res, err := g.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success != 1 {
		t.Errorf("expected one case before cancellation, got %d", res.Success)
	}
	if n := len(readCases(t, filepath.Join(dir, "out", "cases.jsonl"))); n != 1 {
		t.Errorf("expected the written case to be synced, got %d lines", n)
	}
}

func TestGeneratorIndex(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, "배가 아파요", "머리가 아파요")
	idx, err := store.NewSQLiteIndex(store.WithSQLiteDSN(filepath.Join(dir, "index.db")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	if _, err := newTestGenerator(t, okGenerator(), dir, WithIndex(idx, "run-1")).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keys, err := idx.LoadKeys()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 indexed keys, got %v", keys)
	}

	// A lost log is still resumed from the index.
	os.Remove(filepath.Join(dir, "out", "cases.jsonl"))
	gen := okGenerator()
	res, err := newTestGenerator(t, gen, dir, WithIndex(idx, "run-2")).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success != 0 || res.Stats[StatSkipDone] != 2 || len(gen.Calls()) != 0 {
		t.Errorf("expected indexed seeds skipped, got %+v", res)
	}
}

func TestGeneratorOverwriteResetsIndex(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, "배가 아파요", "머리가 아파요")
	idx, err := store.NewSQLiteIndex(store.WithSQLiteDSN(filepath.Join(dir, "index.db")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	if _, err := newTestGenerator(t, okGenerator(), dir, WithIndex(idx, "run-1")).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeSeeds(t, dir, "기침이 나요")
	res, err := newTestGenerator(t, okGenerator(), dir, WithOverwrite(true), WithIndex(idx, "run-2")).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success != 1 || res.StartID != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	keys, err := idx.LoadKeys()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(keys, []string{normalize.Key("기침이 나요")}) {
		t.Errorf("expected only the rewritten case indexed, got %v", keys)
	}
}

func TestGeneratorWritesSeedUnchanged(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "scenarios.json",
		`[{"category": "소화기내과", "complaint": "배가 아파요", "risk": 2, "diagnosis_guess": "위염", "source": "triage-note"}]`)

	if _, err := newTestGenerator(t, okGenerator(), dir).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := testutil.ReadLines(t, filepath.Join(dir, "out", "cases.jsonl"))
	if len(lines) != 1 {
		t.Fatalf("expected one case, got %d", len(lines))
	}
	var row struct {
		SeedInfo map[string]any `json:"seed_info"`
	}
	testutil.MustUnmarshalJSON(t, []byte(lines[0]), &row)
	want := map[string]any{"category": "소화기내과", "complaint": "배가 아파요", "risk": 2.0, "diagnosis_guess": "위염", "source": "triage-note"}
	if len(row.SeedInfo) != len(want) {
		t.Fatalf("expected %d seed keys, got %v", len(want), row.SeedInfo)
	}
	for k, v := range want {
		if row.SeedInfo[k] != v {
			t.Errorf("seed_info[%s] = %v, want %v", k, row.SeedInfo[k], v)
		}
	}
}

func TestGeneratorMissingInput(t *testing.T) {
	dir := t.TempDir()
	if _, err := newTestGenerator(t, okGenerator(), dir).Run(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}
