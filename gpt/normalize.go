package gpt

import (
	"regexp"
	"strconv"
	"strings"
)

// 印刷符号 → ASCII 等价替换表
var replacements = strings.NewReplacer(
	// 长短横线与减号
	"—", "-", "–", "-", "−", "-",
	// 弯引号
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	// 单字符省略号
	"…", "...",
	// 品牌符号
	"©", "", "®", "", "™", "",
	// 箭头
	"→", "->", "←", "<-", "⇒", "=>", "⇐", "<=",
	"➔", "->", "➡", "->", "⬅", "<-",
	// 分数线与除号
	"⁄", "/", "∕", "/",
	// 剑标
	"†", "", "‡", "",
	// 其它少见符号
	"¤", "", "§", "", "¶", "", "※", "",
)

var (
	specialSpacesRe  = regexp.MustCompile("[\u00A0\u2000-\u200D\u202F\u2060\uFEFF]")
	controlCharsRe   = regexp.MustCompile(`[\x00-\x08\x0B-\x0C\x0E-\x1F\x7F]`)
	multipleSpacesRe = regexp.MustCompile(` {2,}`)
	multiplePointRe  = regexp.MustCompile(`\.{2,}`)

	styleBlockRe = regexp.MustCompile(`(?i)style="([^"]+)"`)
	colorRe      = regexp.MustCompile(`(?i)color\s*:\s*([^;]+)`)
	numberRe     = regexp.MustCompile(`\d+\.?\d*`)
)

// removeBlackishColorStyles 去掉内联样式里接近纯黑的前景色声明。
// 客户端在暗色主题下使用自己的默认文字颜色，接近黑色的硬编码颜色会变得不可读
func removeBlackishColorStyles(text string) string {
	return styleBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		m := styleBlockRe.FindStringSubmatch(block)
		if m == nil {
			return block
		}
		styleContent := m[1]

		newStyle := colorRe.ReplaceAllStringFunc(styleContent, func(decl string) string {
			cm := colorRe.FindStringSubmatch(decl)
			if cm == nil {
				return decl
			}
			color := strings.ToLower(strings.TrimSpace(cm[1]))

			var r, g, b float64
			switch {
			case strings.HasPrefix(color, "#"):
				hexVal := strings.TrimPrefix(color, "#")
				if len(hexVal) == 3 {
					hexVal = string([]byte{hexVal[0], hexVal[0], hexVal[1], hexVal[1], hexVal[2], hexVal[2]})
				}
				if len(hexVal) < 6 {
					return decl
				}
				rv, err1 := strconv.ParseUint(hexVal[0:2], 16, 16)
				gv, err2 := strconv.ParseUint(hexVal[2:4], 16, 16)
				bv, err3 := strconv.ParseUint(hexVal[4:6], 16, 16)
				if err1 != nil || err2 != nil || err3 != nil {
					return decl
				}
				r, g, b = float64(rv), float64(gv), float64(bv)
			case strings.HasPrefix(color, "rgb"):
				nums := numberRe.FindAllString(color, 3)
				if len(nums) < 3 {
					return decl
				}
				r, _ = strconv.ParseFloat(nums[0], 64)
				g, _ = strconv.ParseFloat(nums[1], 64)
				b, _ = strconv.ParseFloat(nums[2], 64)
			case color == "black":
				return ""
			default:
				return decl
			}

			if r < 50 && g < 50 && b < 50 {
				return ""
			}
			return decl
		})

		newStyle = strings.Trim(strings.TrimSpace(newStyle), "; ")
		if newStyle == "" {
			return ""
		}
		return `style="` + newStyle + `"`
	})
}

// Normalize 清洗发往客户端的文本：替换印刷符号、去控制字符、折叠空白与点号、
// 去掉近黑内联前景色。变换是幂等的：Normalize(Normalize(x)) == Normalize(x)
func Normalize(text string) string {
	text = removeBlackishColorStyles(text)
	text = replacements.Replace(text)
	text = specialSpacesRe.ReplaceAllString(text, " ")
	text = controlCharsRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.ReplaceAll(text, "\t", " ")
	text = multiplePointRe.ReplaceAllStringFunc(text, func(run string) string {
		if len(run) == 3 {
			return run
		}
		return "."
	})
	text = multipleSpacesRe.ReplaceAllString(text, " ")
	return text
}
