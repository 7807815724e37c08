package studyhub

import (
	"fmt"
	"unicode/utf8"

	"github.com/nao1215/studyhub/internal/docstore"
)

// FieldKind はリソースフィールドの種別。
type FieldKind int

const (
	// KindText は文字列フィールド。
	KindText FieldKind = iota
	// KindList は文字列配列フィールド。
	KindList
)

// FieldSpec は1つのリソースフィールドのスキーマ制約。
type FieldSpec struct {
	// Name はフィールド名（JSONキー）。
	Name string
	// Kind はフィールドの種別。
	Kind FieldKind
	// Required は作成時に必須かどうか。
	Required bool
	// MaxLength は文字列フィールドの最大文字数。0は無制限。
	MaxLength int
	// MaxItems は配列フィールドの最大要素数。0は無制限。
	MaxItems int
}

// Definition は1つのリソース種別の構成。
// 3つのリソースはスキーマと検索対象フィールドのみが異なり、
// ハンドラ実装はこの定義を通じて共有される。
type Definition struct {
	// Name はコレクション名。URLのベースパスにも使用する。
	Name string
	// Label はログとメッセージに使用する日本語名。
	Label string
	// Fields はスキーマ固有フィールドの制約リスト。
	Fields []FieldSpec
	// SearchText は部分一致検索の対象となる文字列フィールド名。
	SearchText []string
	// SearchLists は要素完全一致検索の対象となる配列フィールド名。
	SearchLists []string
}

// Definitions は3つのリソース種別の定義を返す。
func Definitions() []Definition {
	return []Definition{
		{
			Name:  "notes",
			Label: "ノート",
			Fields: []FieldSpec{
				{Name: "title", Kind: KindText, Required: true, MaxLength: 255},
				{Name: "description", Kind: KindText, MaxLength: 5000},
				{Name: "content", Kind: KindText, MaxLength: 50000},
				{Name: "tags", Kind: KindList, MaxItems: 100},
			},
			SearchText:  []string{"title", "description"},
			SearchLists: []string{"tags"},
		},
		{
			Name:  "papers",
			Label: "論文",
			Fields: []FieldSpec{
				{Name: "title", Kind: KindText, Required: true, MaxLength: 255},
				{Name: "authors", Kind: KindList, MaxItems: 100},
				{Name: "abstract", Kind: KindText, MaxLength: 5000},
				{Name: "file_url", Kind: KindText, MaxLength: 500},
				{Name: "tags", Kind: KindList, MaxItems: 100},
			},
			SearchText:  []string{"title", "abstract"},
			SearchLists: []string{"authors", "tags"},
		},
		{
			Name:  "syllabi",
			Label: "シラバス",
			Fields: []FieldSpec{
				{Name: "title", Kind: KindText, Required: true, MaxLength: 255},
				{Name: "course_code", Kind: KindText, MaxLength: 20},
				{Name: "branch", Kind: KindText, MaxLength: 100},
				{Name: "year", Kind: KindText, MaxLength: 20},
				{Name: "description", Kind: KindText, MaxLength: 5000},
				{Name: "modules", Kind: KindList, MaxItems: 100},
				{Name: "tags", Kind: KindList, MaxItems: 100},
			},
			SearchText:  []string{"title", "course_code", "branch", "description"},
			SearchLists: []string{"tags"},
		},
	}
}

// validate はpayloadのフィールドをスキーマに従って検証する。
// fullがtrueの場合（作成時）は必須フィールドの存在も確認する。
// スキーマに無いキーは無視する。
func (d Definition) validate(payload map[string]any, full bool) error {
	for _, f := range d.Fields {
		v, ok := payload[f.Name]
		if !ok {
			if full && f.Required {
				return fmt.Errorf("%s は必須です", f.Name)
			}
			continue
		}

		if v == nil {
			if f.Required {
				return fmt.Errorf("%s は必須です", f.Name)
			}
			continue
		}

		switch f.Kind {
		case KindText:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%s は文字列で指定してください", f.Name)
			}
			if f.Required && s == "" {
				return fmt.Errorf("%s は1文字以上で指定してください", f.Name)
			}
			if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
				return fmt.Errorf("%s は%d文字以内で指定してください", f.Name, f.MaxLength)
			}
		case KindList:
			items, ok := v.([]any)
			if !ok {
				return fmt.Errorf("%s は文字列の配列で指定してください", f.Name)
			}
			if f.MaxItems > 0 && len(items) > f.MaxItems {
				return fmt.Errorf("%s は%d件以内で指定してください", f.Name, f.MaxItems)
			}
			for _, item := range items {
				if _, ok := item.(string); !ok {
					return fmt.Errorf("%s の要素は文字列で指定してください", f.Name)
				}
			}
		}
	}
	return nil
}

// pick はpayloadからスキーマに定義されたフィールドのみを取り出す。
// payloadに含まれないフィールドは結果にも含めない（exclude-unsetセマンティクス）。
func (d Definition) pick(payload map[string]any) map[string]any {
	fields := make(map[string]any, len(d.Fields))
	for _, f := range d.Fields {
		if v, ok := payload[f.Name]; ok {
			fields[f.Name] = v
		}
	}
	return fields
}

// normalize は作成時のフィールド集合を構築する。
// 全スキーマフィールドを含め、未指定の文字列はnull、未指定の配列は空配列で補完する。
func (d Definition) normalize(payload map[string]any) map[string]any {
	fields := make(map[string]any, len(d.Fields))
	for _, f := range d.Fields {
		v, ok := payload[f.Name]
		if !ok || v == nil {
			if f.Kind == KindList {
				fields[f.Name] = []any{}
			} else {
				fields[f.Name] = nil
			}
			continue
		}
		fields[f.Name] = v
	}
	return fields
}

// searchFilter は検索語qに対するOR条件のフィルタを生成する。
// 文字列フィールドは部分一致、配列フィールドは要素完全一致で評価される。
func (d Definition) searchFilter(q string) *docstore.Filter {
	f := &docstore.Filter{}
	for _, name := range d.SearchText {
		f.AnyOf = append(f.AnyOf, docstore.Condition{Field: name, Contains: q})
	}
	for _, name := range d.SearchLists {
		f.AnyOf = append(f.AnyOf, docstore.Condition{Field: name, Has: q})
	}
	return f
}
