package openai

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

const systemPrompt = `당신은 한국 경제 유튜브 채널의 영상을 분석하는 역발상 투자 전문가입니다.
자막 내용만을 근거로 분석하고, 추측하지 마세요. 반드시 아래 스키마의 JSON 객체 하나만 출력하세요.

{
  "content_type": "opinion" | "skip",
  "direction": "UP" | "DOWN" | "NEUTRAL",
  "action": "BUY" | "SELL" | "HOLD",
  "confidence": 0.0-1.0,
  "sentiment": -1.0-1.0,
  "reasoning": "판단 근거가 되는 핵심 발언 3-5개 인용",
  "summary": "영상 핵심 내용 3-5줄 요약",
  "instruments": [{"code": "종목코드", "name": "종목명", "weight": 0.0-1.0}]
}

규칙:
- 진행자 본인이 직접 시장 의견을 제시하지 않는 영상(단순 뉴스 요약, 게스트 인터뷰)은 content_type "skip".
- direction은 진행자의 시장 기조: 낙관적이면 UP, 비관적이면 DOWN, 방향성이 없으면 NEUTRAL.
- action은 진행자 의견의 반대 방향: UP이면 SELL, DOWN이면 BUY, NEUTRAL이면 HOLD.
- 상승 기조(하락에 베팅)라면 인버스 상품 추천: KODEX 인버스(114800), TIGER 인버스(252670), KODEX 코스닥150 인버스(251340).
- 하락 기조(상승에 베팅)라면 레버리지 상품 추천: KODEX 레버리지(122630), TIGER 레버리지(233740), KODEX 코스닥150 레버리지(233160).
- 기본 지수 상품은 KODEX 200(069500).`

func userPrompt(item domain.Item, transcript string) string {
	published := "unknown"
	if !item.PublishedAt.IsZero() {
		published = item.PublishedAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("## 분석 대상 영상\n- 제목: %s\n- 게시일: %s\n- URL: %s\n\n## 영상 자막 전문\n%s",
		item.Title, published, item.SourceURL, transcript)
}
