package embedding

import (
	"context"
	"math"
	"regexp"
	"strings"
)

// Embedder 向量化接口，便于测试替换
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Verifier 基于向量相似度校验修订稿是否真正回应了审阅意见。
// 校验结果仅用于日志参考，不会阻断流水线。
type Verifier struct {
	embedder  Embedder
	threshold float64
}

func NewVerifier(embedder Embedder, threshold float64) *Verifier {
	if threshold <= 0 {
		threshold = 0.6
	}
	return &Verifier{embedder: embedder, threshold: threshold}
}

// maxFeedbackPoints 每次校验最多比对的意见条数
const maxFeedbackPoints = 5

// VerifyRevision 比较修订前后的差异行与审阅意见的语义相似度。
// 返回是否达到阈值以及平均相似度。
func (v *Verifier) VerifyRevision(ctx context.Context, oldContent, newContent, feedback string) (bool, float64, error) {
	if v == nil || v.embedder == nil {
		return true, 1.0, nil
	}
	if strings.TrimSpace(feedback) == "" {
		return true, 1.0, nil
	}

	points := ExtractFeedbackPoints(feedback)
	if len(points) == 0 {
		return true, 0.5, nil
	}
	if len(points) > maxFeedbackPoints {
		points = points[:maxFeedbackPoints]
	}

	changed := changedLines(oldContent, newContent)
	if strings.TrimSpace(changed) == "" {
		return false, 0.0, nil
	}

	texts := append(append([]string{}, points...), changed)
	vectors, err := v.embedder.Embed(ctx, texts)
	if err != nil {
		return false, 0.0, err
	}

	changedVec := vectors[len(vectors)-1]
	var sum float64
	for _, pointVec := range vectors[:len(vectors)-1] {
		sum += CosineSimilarity(pointVec, changedVec)
	}
	avg := sum / float64(len(points))
	return avg >= v.threshold, avg, nil
}

var (
	listItemRe   = regexp.MustCompile(`^(\d+[.)]\s+|-\s+)`)
	sentenceStop = regexp.MustCompile(`[。！？.!?]\s*`)
)

// ExtractFeedbackPoints 从审阅意见中拆出独立的意见条目。
// 优先识别编号或列表项，否则退化为长句切分。
func ExtractFeedbackPoints(feedback string) []string {
	var points []string
	for _, line := range strings.Split(feedback, "\n") {
		line = strings.TrimSpace(line)
		if listItemRe.MatchString(line) {
			cleaned := strings.TrimSpace(listItemRe.ReplaceAllString(line, ""))
			if len([]rune(cleaned)) > 10 {
				points = append(points, cleaned)
			}
		}
	}
	if len(points) > 0 {
		return points
	}

	for _, sentence := range sentenceStop.Split(feedback, -1) {
		sentence = strings.TrimSpace(sentence)
		if len([]rune(sentence)) > 20 {
			points = append(points, sentence)
		}
		if len(points) >= maxFeedbackPoints {
			break
		}
	}
	return points
}

// CosineSimilarity 计算两个向量的余弦相似度，零向量返回 0。
func CosineSimilarity(v1, v2 []float64) float64 {
	if len(v1) == 0 || len(v2) == 0 || len(v1) != len(v2) {
		return 0.0
	}
	var dot, norm1, norm2 float64
	for i := range v1 {
		dot += v1[i] * v2[i]
		norm1 += v1[i] * v1[i]
		norm2 += v2[i] * v2[i]
	}
	if norm1 == 0 || norm2 == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(norm1) * math.Sqrt(norm2))
}

// changedLines 取修订稿中新增或被改写的行
func changedLines(oldContent, newContent string) string {
	oldSet := make(map[string]struct{})
	for _, line := range strings.Split(oldContent, "\n") {
		oldSet[line] = struct{}{}
	}
	var changed []string
	for _, line := range strings.Split(newContent, "\n") {
		if _, ok := oldSet[line]; !ok {
			changed = append(changed, line)
		}
	}
	return strings.Join(changed, "\n")
}
