package model

import "time"

const dateLayout = "2006-01-02"

// DateOf 截断为日期 (UTC零点), 所有按日主键都使用该形式
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateIn 取时间在指定时区下的日期
func DateIn(t time.Time, loc *time.Location) time.Time {
	return DateOf(t.In(loc))
}

// ParseDate 解析 2006-01-02 或 20060102 格式的日期
func ParseDate(s string) (time.Time, error) {
	layout := dateLayout
	if len(s) == 8 {
		layout = "20060102"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}

// FormatDate 格式化日期
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
