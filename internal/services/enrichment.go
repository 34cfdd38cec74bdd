package services

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

// 主题规则表 - 规则化关键词匹配，多标签
var topicRules = map[string][]string{
	"strength": {
		"strength", "powerlifting", "deadlift", "squat", "bench press",
		"barbell", "dumbbell", "kettlebell", "press", "pull-up",
	},
	"nutrition": {
		"nutrition", "diet", "protein", "calories", "meal", "macro",
		"supplement", "creatine", "vitamin", "eating",
	},
	"cardio": {
		"cardio", "running", "hiit", "endurance", "aerobic", "cycling",
		"sprint", "zone 2", "interval", "rowing",
	},
	"recovery": {
		"recovery", "sleep", "rest", "stretching", "foam roll",
		"mobility", "warm-up", "cool-down", "massage",
	},
	"bodybuilding": {
		"bodybuilding", "hypertrophy", "muscle", "bulk", "cut",
		"body composition", "physique", "pump", "volume",
	},
	"weight_loss": {
		"weight loss", "fat loss", "lean", "deficit", "calorie",
		"shred", "cutting", "metabolism", "thermogenic",
	},
	"mental": {
		"mental", "mindset", "motivation", "stress", "anxiety",
		"discipline", "habit", "focus", "meditation",
	},
	"injury": {
		"injury", "rehab", "pain", "prevention", "physical therapy",
		"tendon", "joint", "shoulder", "knee", "back pain",
	},
}

// 关键词提取的停用词
var stopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(
		"the a an and or but in on at to for of with by from is are was were be been " +
			"being have has had do does did will would could should may might shall can it its " +
			"this that these those i you he she we they me him her us them my your his " +
			"our their what which who whom how when where why not no so if as up out " +
			"about into over after before between under again then once here there all each every " +
			"both few more most other some such than too very just also now new one two") {
		stopWords[w] = true
	}
}

var wordRe = regexp.MustCompile(`[a-z]{3,}`)

// Enrichment 富化结果
type Enrichment struct {
	Language     string
	Topics       []string
	Keywords     []string
	QualityScore float64
}

// EnrichArticle 对 (标题, 摘要, 正文) 做确定性富化：主题、关键词、语言、质量分
// 纯函数，无网络无存储，可单独测试
func EnrichArticle(title, summary, content, imageURL string, publishedAt *time.Time) Enrichment {
	return Enrichment{
		Language:     DetectLanguage(title + " " + summary),
		Topics:       ClassifyTopics(title, summary),
		Keywords:     ExtractKeywords(title, summary, 10),
		QualityScore: ComputeQualityScore(title, summary, content, imageURL, publishedAt),
	}
}

// ClassifyTopics 按规则表匹配主题标签，一个都不命中时归入 general
func ClassifyTopics(title, summary string) []string {
	text := strings.ToLower(title + " " + summary)

	var matched []string
	// map 遍历无序，固定主题顺序保证结果可复现
	for _, topic := range sortedTopics() {
		for _, kw := range topicRules[topic] {
			if strings.Contains(text, kw) {
				matched = append(matched, topic)
				break
			}
		}
	}

	if len(matched) == 0 {
		return []string{"general"}
	}
	return matched
}

var topicOrder []string

func sortedTopics() []string {
	if topicOrder == nil {
		for topic := range topicRules {
			topicOrder = append(topicOrder, topic)
		}
		sort.Strings(topicOrder)
	}
	return topicOrder
}

// ExtractKeywords 取词频最高的前 N 个有效词，标题权重翻倍
func ExtractKeywords(title, summary string, topN int) []string {
	text := strings.ToLower(title + " " + title + " " + summary)
	counts := make(map[string]int)
	var order []string

	for _, word := range wordRe.FindAllString(text, -1) {
		if stopWords[word] {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	// 按词频降序，同频保持出现顺序
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > topN {
		order = order[:topN]
	}
	return order
}

// ComputeQualityScore 有界加性启发式质量分，上限 1.0
// 标题够长 +0.2，摘要够长 +0.2，有配图 +0.2，有实质正文 +0.2，3 天内 +0.2 / 7 天内 +0.1
func ComputeQualityScore(title, summary, content, imageURL string, publishedAt *time.Time) float64 {
	score := 0.0

	if len(title) > 20 {
		score += 0.2
	}
	if len(summary) > 100 {
		score += 0.2
	}
	if imageURL != "" {
		score += 0.2
	}
	if len(content) > 500 {
		score += 0.2
	}
	if publishedAt != nil {
		daysOld := int(time.Since(*publishedAt).Hours() / 24)
		if daysOld < 3 {
			score += 0.2
		} else if daysOld < 7 {
			score += 0.1
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// DetectLanguage 粗略语言识别：非拉丁字符占比高则认为非英文
// 源都是英文订阅源，这里只负责把明显的非英文内容标出来
func DetectLanguage(text string) string {
	if text == "" {
		return "en"
	}

	letters, nonLatin := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if r > unicode.MaxASCII {
				nonLatin++
			}
		}
	}
	if letters > 0 && float64(nonLatin)/float64(letters) > 0.5 {
		return "other"
	}
	return "en"
}
