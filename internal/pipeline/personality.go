package pipeline

import (
	"fmt"
	"sort"
)

// 性格测评的四个类别，顺序即复合分中两位数字段的顺序。
const (
	CategoryEmerald  = "Emerald"
	CategoryPearl    = "Pearl"
	CategoryRuby     = "Ruby"
	CategorySapphire = "Sapphire"
)

var categoryOrder = [4]string{CategoryEmerald, CategoryPearl, CategoryRuby, CategorySapphire}

const maxPersonalityTotal = 99999999

// CategoryScore 单个类别得分。
type CategoryScore struct {
	Category string `json:"category"`
	Value    int    `json:"value"`
}

// Profile 性格测评分解结果。Ranked 按得分降序，得分相同保持类别顺序。
type Profile struct {
	Segments  [4]CategoryScore `json:"segments"`
	Ranked    []CategoryScore  `json:"ranked"`
	Primary   string           `json:"primary"`
	Secondary string           `json:"secondary"`
}

// Decompose 将复合分补零到 8 位后切成四段两位数，并排出主/次类别。
// 例如 12345678 -> Emerald 12, Pearl 34, Ruby 56, Sapphire 78，主 Sapphire 次 Ruby。
func Decompose(total int64) (Profile, error) {
	if total < 0 || total > maxPersonalityTotal {
		return Profile{}, fmt.Errorf("%w: %d", ErrInvalidPersonalityScore, total)
	}
	digits := fmt.Sprintf("%08d", total)

	var p Profile
	for i, name := range categoryOrder {
		seg := digits[i*2 : i*2+2]
		p.Segments[i] = CategoryScore{
			Category: name,
			Value:    int(seg[0]-'0')*10 + int(seg[1]-'0'),
		}
	}
	p.Ranked = append([]CategoryScore(nil), p.Segments[:]...)
	sort.SliceStable(p.Ranked, func(i, j int) bool {
		return p.Ranked[i].Value > p.Ranked[j].Value
	})
	p.Primary = p.Ranked[0].Category
	p.Secondary = p.Ranked[1].Category
	return p, nil
}
