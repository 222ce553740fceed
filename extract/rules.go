package extract

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kgforge/kgforge/model"
)

// Rule extracts mentions with a regex bank tuned for Chinese corpora. It
// serves two roles: a standalone strategy for offline runs, and the fallback
// behind the llm strategy (force-extended, so sparse texts still yield
// something to build a graph from).
type Rule struct {
	forceExtend bool
}

func NewRule() *Rule { return &Rule{} }

// NewRuleForceExtended always applies the extended patterns (products,
// events, numbers, titles) plus the last-resort noun sweep.
func NewRuleForceExtended() *Rule { return &Rule{forceExtend: true} }

func (r *Rule) Name() string { return "rule" }

type rulePattern struct {
	typ   string
	re    *regexp.Regexp
	group int // capture group holding the entity name; 0 = whole match
}

// surnames anchors Chinese person names: a common surname followed by a one
// or two character given name.
const surnames = "王|李|张|刘|陈|杨|赵|黄|周|吴|徐|孙|胡|朱|高|林|何|郭|马|罗|梁|宋|郑|谢|韩|唐|冯|董|程|曹|袁|邓|许|傅|沈|曾|彭|吕"

var basePatterns = []rulePattern{
	{"人物", regexp.MustCompile(`([\p{Han}]{2,4})(?:先生|女士|教授|博士|老师|院士)`), 1},
	{"人物", regexp.MustCompile(`(?:` + surnames + `)[\p{Han}]{1,2}`), 0},
	{"人物", regexp.MustCompile(`[A-Z][a-z]+(?:[ -][A-Z][a-z]+)+`), 0},
	{"组织", regexp.MustCompile(`[\p{Han}A-Za-z0-9]{2,}(?:公司|集团|大学|学院|研究院|研究所|实验室|医院|政府|部门|协会|学会|中心|银行)`), 0},
	{"组织", regexp.MustCompile(`[A-Z][A-Za-z0-9]*(?:[ ][A-Z][A-Za-z0-9]*)*[ ](?:Inc|Corp|Ltd|LLC|University|Institute|Lab)\.?`), 0},
	{"地点", regexp.MustCompile(`[\p{Han}]{1,6}(?:省|市|区|县|镇|街道|村)`), 0},
	{"地点", regexp.MustCompile(`[\p{Han}]{2,5}(?:地区|地带|区域)`), 0},
	{"时间", regexp.MustCompile(`\d{4}年(?:\d{1,2}月(?:\d{1,2}日)?)?`), 0},
	{"时间", regexp.MustCompile(`\d{4}[-/]\d{1,2}[-/]\d{1,2}`), 0},
	{"时间", regexp.MustCompile(`\d{1,2}月\d{1,2}日`), 0},
	{"时间", regexp.MustCompile(`\d{1,2}世纪|\d{2,4}年代`), 0},
}

// techTerms is the fixed lexicon for technology names; matched literally.
var techTerms = []string{
	"人工智能", "机器学习", "深度学习", "神经网络", "自然语言处理",
	"计算机视觉", "知识图谱", "大数据", "云计算", "区块链", "物联网",
	"量子计算", "虚拟现实", "增强现实", "文心一言", "通义千问", "ERNIE",
	"ChatGPT", "GPT-4", "Qwen", "Transformer", "BERT", "LSTM", "5G", "6G",
}

var techPattern = func() *regexp.Regexp {
	escaped := make([]string, len(techTerms))
	for i, t := range techTerms {
		escaped[i] = regexp.QuoteMeta(t)
	}
	return regexp.MustCompile(strings.Join(escaped, "|"))
}()

var extendedPatterns = []rulePattern{
	{"产品", regexp.MustCompile(`([\p{Han}A-Za-z0-9-]{2,})(?:产品|系统|工具|设备|软件|平台|方案)`), 1},
	{"事件", regexp.MustCompile(`([\p{Han}A-Za-z0-9-]{2,})(?:会议|大会|研讨会|论坛|展览|比赛|发布会|峰会)`), 1},
	{"数字", regexp.MustCompile(`\d+(?:\.\d+)?(?:亿元|万元|美元|人民币|亿|万)`), 0},
	{"数字", regexp.MustCompile(`\d+(?:\.\d+)?\s?[%％]`), 0},
	{"职位", regexp.MustCompile(`董事长|总裁|首席执行官|CEO|CTO|CFO|总经理|副总裁|总监|创始人|工程师|科学家|研究员`), 0},
}

// nounSweep is the last resort when nothing else matched: any 2-5 character
// CJK run that is not a function word.
var nounSweep = regexp.MustCompile(`[\p{Han}]{2,5}`)

var sweepStopwords = map[string]bool{
	"的": true, "了": true, "是": true, "在": true, "有": true,
	"和": true, "等": true, "与": true, "及": true,
}

// predicatePrefixes are verbs and connectives that greedy CJK prefixes drag
// into suffix-anchored matches ("领导百度研究院" should yield "百度研究院").
var predicatePrefixes = []string{
	"领导", "带领", "负责", "推出", "发布", "研发", "研制", "包括", "包含",
	"表示", "担任", "任职于", "属于", "成立", "创立", "位于", "加入",
	"宣布", "收购", "投资", "是", "于", "在", "与", "和", "同", "的",
}

func (r *Rule) Extract(ctx context.Context, text string) ([]model.Mention, error) {
	seen := make(map[string]bool)
	var mentions []model.Mention

	add := func(typ, name string, byteStart, byteEnd int) {
		name, trimmed := trimPredicatePrefix(strings.TrimSpace(name))
		if utf8.RuneCountInString(name) < 2 || seen[name] || sweepStopwords[name] {
			return
		}
		seen[name] = true
		start := utf8.RuneCountInString(text[:byteStart]) + trimmed
		mentions = append(mentions, model.Mention{
			ID:         newMentionID(),
			Name:       name,
			Type:       typ,
			Start:      start,
			End:        start + utf8.RuneCountInString(name),
			Confidence: 0.8,
		})
	}

	run := func(patterns []rulePattern) {
		for _, p := range patterns {
			for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
				g := p.group * 2
				if m[g] < 0 {
					continue
				}
				add(p.typ, text[m[g]:m[g+1]], m[g], m[g+1])
			}
		}
	}

	run(basePatterns)
	for _, m := range techPattern.FindAllStringIndex(text, -1) {
		add("技术", text[m[0]:m[1]], m[0], m[1])
	}

	if r.forceExtend || len(mentions) == 0 {
		run(extendedPatterns)
	}

	if len(mentions) == 0 {
		for _, m := range nounSweep.FindAllStringIndex(text, -1) {
			name := text[m[0]:m[1]]
			if sweepStopwords[name] {
				continue
			}
			add("名词", name, m[0], m[1])
		}
	}

	return mentions, nil
}

// trimPredicatePrefix cuts a captured name after the rightmost embedded
// predicate, returning the cleaned name and how many runes were removed.
// Greedy CJK prefixes drag whole clauses into suffix-anchored matches, so
// "王海峰领导百度研究院" becomes "百度研究院".
func trimPredicatePrefix(name string) (string, int) {
	cut := 0
	for _, p := range predicatePrefixes {
		if idx := strings.LastIndex(name, p); idx >= 0 && idx+len(p) > cut {
			cut = idx + len(p)
		}
	}
	if cut == 0 {
		return name, 0
	}
	rest := name[cut:]
	if utf8.RuneCountInString(rest) < 2 {
		return name, 0
	}
	return rest, utf8.RuneCountInString(name[:cut])
}
