package seedgen

import "strings"

// BatchSize is the number of scenarios requested per prompt.
const BatchSize = 5

const batchPrompt = `당신은 의료 데이터 설계자입니다.
이번에는 **[{target_category}]** 영역의 환자 주호소(Chief Complaint) 시나리오 5개를 생성하십시오.

[제약 조건]
1. 진료과: 반드시 '{target_category}'에 해당하는 케이스만 작성할 것. (타 진료과 증상 금지)
2. 주호소: 환자의 자연스러운 '구어체' 사용. (예: "머리가 깨질 듯해요")
3. 위험도: {risk_instruction}
4. 출력 포맷: 반드시 아래 JSON List 형식만 출력. 설명 금지.
5. 각 항목은 반드시 다음 키를 포함: category, complaint, risk, diagnosis_guess

[출력 예시]
[
  {"category": "{target_category}", "complaint": "가슴이 쥐어짜듯이 아파요", "risk": "high", "diagnosis_guess": "협심증"},
  {"category": "{target_category}", "complaint": "무릎이 시큰거려요", "risk": "low", "diagnosis_guess": "관절염"}
]`

// BuildPrompt renders the batch prompt for one category.
func BuildPrompt(category, riskInstruction string) string {
	return strings.NewReplacer(
		"{target_category}", category,
		"{risk_instruction}", riskInstruction,
	).Replace(batchPrompt)
}
