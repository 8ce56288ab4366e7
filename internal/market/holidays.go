package market

// KRX 휴장일 (연말 폐장일 포함)
var krxHolidays = map[string]bool{
	"2025-01-01": true, // 신정
	"2025-01-27": true, // 임시공휴일
	"2025-01-28": true, // 설날
	"2025-01-29": true,
	"2025-01-30": true,
	"2025-03-03": true, // 삼일절 대체
	"2025-05-01": true, // 근로자의 날
	"2025-05-05": true, // 어린이날, 부처님오신날
	"2025-05-06": true, // 대체공휴일
	"2025-06-03": true, // 대통령 선거
	"2025-06-06": true, // 현충일
	"2025-08-15": true, // 광복절
	"2025-10-03": true, // 개천절
	"2025-10-06": true, // 추석
	"2025-10-07": true,
	"2025-10-08": true,
	"2025-10-09": true, // 한글날
	"2025-12-25": true, // 성탄절
	"2025-12-31": true, // 연말 휴장

	"2026-01-01": true,
	"2026-02-16": true,
	"2026-02-17": true,
	"2026-02-18": true,
	"2026-03-02": true,
	"2026-05-01": true,
	"2026-05-05": true,
	"2026-05-25": true,
	"2026-06-03": true, // 지방선거
	"2026-08-17": true,
	"2026-09-24": true,
	"2026-09-25": true,
	"2026-10-05": true,
	"2026-10-09": true,
	"2026-12-25": true,
	"2026-12-31": true,
}

// 미국 정규장 휴장일 (주요 공휴일만)
var usHolidays = map[string]bool{
	"2025-01-01": true, // New Year's Day
	"2025-01-20": true, // MLK Day
	"2025-02-17": true, // Presidents Day
	"2025-04-18": true, // Good Friday
	"2025-05-26": true, // Memorial Day
	"2025-06-19": true, // Juneteenth
	"2025-07-04": true, // Independence Day
	"2025-09-01": true, // Labor Day
	"2025-11-27": true, // Thanksgiving
	"2025-12-25": true, // Christmas

	"2026-01-01": true,
	"2026-01-19": true,
	"2026-02-16": true,
	"2026-04-03": true,
	"2026-05-25": true,
	"2026-06-19": true,
	"2026-07-03": true, // observed
	"2026-09-07": true,
	"2026-11-26": true,
	"2026-12-25": true,
}
