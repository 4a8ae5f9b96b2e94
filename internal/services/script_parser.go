// internal/services/script_parser.go
package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Corphon/ScriptVoice/internal/models"
)

// 空白字符与 ECMAScript 的 \s 一致：包括 Unicode 空格分隔符和 BOM
const whitespaceClass = `[\s\v\p{Z}\x{FEFF}]`

// 可选的左方括号、名字、冒号、可选的右方括号、台词
var scriptLinePattern = regexp.MustCompile(`^(?:\[)?([^:]+):` + whitespaceClass + `*\]?(.*)$`)

var whitespaceRun = regexp.MustCompile(whitespaceClass + `+`)

// ScriptLine 剧本中一条有效的台词行
type ScriptLine struct {
	Name     string
	Dialogue string
}

// ParseLine 解析单行文本，不匹配或台词为空时返回 false
func ParseLine(line string) (ScriptLine, bool) {
	match := scriptLinePattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return ScriptLine{}, false
	}
	dialogue := strings.TrimSpace(match[2])
	if dialogue == "" {
		return ScriptLine{}, false
	}
	return ScriptLine{Name: strings.TrimSpace(match[1]), Dialogue: dialogue}, true
}

// SpeakerID 由名字派生稳定标识：小写，空白替换为连字符，结果为空时使用位置占位符
func SpeakerID(name string, index int) string {
	id := strings.ToLower(whitespaceRun.ReplaceAllString(name, "-"))
	if id == "" {
		return fmt.Sprintf("speaker-%d", index)
	}
	return id
}

// ParseScript 将剧本文本解析为说话人列表。
// 输出顺序为名字首次出现的顺序；名字区分大小写。
// previous 中同名说话人的语音会被沿用，新名字按已出现的不同名字数量轮流分配目录中的语音。
func ParseScript(text string, previous []models.Speaker, catalog models.VoiceCatalog) []models.Speaker {
	if len(catalog) == 0 {
		catalog = models.DefaultVoiceCatalog
	}

	previousVoices := make(map[string]models.VoiceID, len(previous))
	for _, sp := range previous {
		if _, seen := previousVoices[sp.Name]; !seen && sp.Voice != "" {
			previousVoices[sp.Name] = sp.Voice
		}
	}

	index := make(map[string]int)
	var speakers []models.Speaker

	for _, raw := range strings.Split(text, "\n") {
		line, ok := ParseLine(raw)
		if !ok {
			continue
		}

		i, exists := index[line.Name]
		if !exists {
			voice, carried := previousVoices[line.Name]
			if !carried {
				voice = catalog.At(len(speakers))
			}
			i = len(speakers)
			index[line.Name] = i
			speakers = append(speakers, models.Speaker{
				ID:    SpeakerID(line.Name, i),
				Name:  line.Name,
				Voice: voice,
			})
		}
		speakers[i].Dialogues = append(speakers[i].Dialogues, line.Dialogue)
	}

	if speakers == nil {
		return []models.Speaker{}
	}
	return speakers
}
