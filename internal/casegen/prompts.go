package casegen

import (
	"math/rand/v2"
	"strings"

	"github.com/BTreeMap/MedSynth/internal/models"
	"github.com/BTreeMap/MedSynth/internal/util"
)

// UserStyles are the patient personas a dialogue may be written in.
var UserStyles = []string{
	"Standard: 묻는 말에 적절히 대답함.",
	"Passive: 단답형으로 짧게 대답함 (정보를 조금씩 줌).",
	"Talkative: 질문 하나에 여러 정보를 섞어서 길게 대답함.",
	"Anxious: 증상을 걱정하며 되묻거나 불안해함.",
	"Vague: 표현이 모호하고 정확하지 않음 ('그냥 좀 이상해요').",
}

// DoctorStyles are the interviewing styles of the assistant.
var DoctorStyles = []string{
	"Standard: 표준적인 문진 (OPQRST 순서).",
	"Risk-Focused: 위험 징후(Red Flag)부터 먼저 확인.",
	"Empathetic: 공감하며 대화, 환자의 생활 습관도 물어봄.",
	"Efficient: 핵심만 빠르게 질문하여 감별 진단.",
}

const profilePrompt = `당신은 의학 시나리오 작가입니다.
아래 정보를 바탕으로 가상의 환자 프로필(JSON)을 작성하십시오.

[입력 정보]
- 진료과: {category}
- 주호소: {complaint}
- 위험도: {risk} ({diagnosis_guess})

[작성 규칙]
1. 나이, 성별, 과거력(history), 복용약(meds)을 구체적이고 현실적으로 설정.
2. 증상의 OPQRST(Onset, Provocation, Quality, Region, Severity, Time)를 확정.
3. 위험도 '{risk}'에 맞는 동반 증상 및 위험 징후(Red Flag) 포함 여부 결정.
4. red_flag_symptoms는 절대 빈 문자열로 두지 말 것. (없으면 "없음")
5. 출력은 JSON 포맷만.

[출력 예시]
{
  "profile": { "age": 45, "gender": "M", "history": "고혈압", "meds": "아몰디핀" },
  "symptoms": {
    "chief_complaint": "...",
    "onset": "...",
    "location": "...",
    "severity": 5,
    "quality": "...",
    "associated_symptoms": "...",
    "aggravating_factors": "...",
    "relieving_factors": "...",
    "red_flag_symptoms": "없음"
  }
}`

const dialoguePrompt = `당신은 '의료 문진 시뮬레이터'입니다.
환자 프로필을 바탕으로 의사(Assistant)와 환자(User)의 대화를 생성하십시오.

[환자 프로필]
{profile_json}

[설정]
- 의사 스타일: {doctor_style}
- 환자 스타일: {user_style}

[절대 규칙 (Data Leakage 방지)]
1. Assistant는 대화 시작 시점에 환자의 구체적인 정보(과거력, 복용약, 세부 증상)를 **전혀 모른다고 가정**해야 한다.
2. 따라서 Assistant는 **프로필에 있는 병명이나 약물명을 먼저 언급해서는 안 된다.**
   - (X) "당뇨약은 드시고 계신가요?" (프로필을 훔쳐본 질문)
   - (O) "평소 앓고 있는 지병이나 드시는 약이 있나요?" (올바른 질문)
3. User는 Assistant가 '포괄적인 질문(Open-ended question)'을 했을 때, 비로소 프로필의 정보를 구체적으로 답변한다.

[대화 생성 규칙]
1. Assistant는 매 턴 ` + "`thought`, `intent`, `content`" + ` 필수.
2. Assistant는 한 턴에 질문 1개만. (물음표 '?'는 1개만 사용)
3. Assistant와 User는 반드시 번갈아가며 등장.
4. HPI(onset, location, severity, quality 등)를 충분히 수집 후, 마지막에 intent="summary"로 종료.
5. Summary에서는 **대화 중에 User가 직접 말한 내용**만 요약해야 한다. (묻지 않은 정보 포함 금지)
6. 출력은 JSON 포맷만.
7. HPI 수집 후 Summary로 넘어가기 전에, 반드시 '과거력(History)'과 '약물(Meds)'을 확인하는 질문을 해야 한다.

[출력 예시]
{
  "dialogue": [
    {
      "role": "assistant",
      "thought": "주호소 확인",
      "intent": "onset",
      "content": "어디가 불편하신가요?"
    },
    {
      "role": "user",
      "content": "배가 아파요."
    },
    {
      "role": "assistant",
      "thought": "과거력 확인 (구체적 병명 언급 금지)",
      "intent": "history",
      "content": "혹시 예전부터 앓고 계신 다른 질환이 있나요?"
    },
    {
      "role": "user",
      "content": "네, 고혈압이랑 당뇨가 있어요."
    }
  ]
}`

// BuildProfilePrompt renders the profile prompt for a seed.
func BuildProfilePrompt(s models.Scenario) string {
	return strings.NewReplacer(
		"{category}", s.Category,
		"{complaint}", s.Complaint,
		"{risk}", string(s.Risk),
		"{diagnosis_guess}", s.DiagnosisGuess,
	).Replace(profilePrompt)
}

// Styles is the persona pair embedded in a dialogue prompt.
type Styles struct {
	Doctor string
	User   string
}

// PickStyles draws one doctor and one patient style.
func PickStyles(rng *rand.Rand) Styles {
	return Styles{Doctor: util.Choice(rng, DoctorStyles), User: util.Choice(rng, UserStyles)}
}

// BuildDialoguePrompt renders the dialogue prompt around an indented profile.
func BuildDialoguePrompt(profileJSON string, styles Styles) string {
	return strings.NewReplacer(
		"{profile_json}", profileJSON,
		"{doctor_style}", styles.Doctor,
		"{user_style}", styles.User,
	).Replace(dialoguePrompt)
}
