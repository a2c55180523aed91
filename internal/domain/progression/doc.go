// Package progression содержит доменную модель прогресса пользователя.
//
// Пакет определяет:
//
//   - ThresholdTable: упорядоченная таблица порогов (уровень, минимальный XP, тир)
//   - LevelResolver: чистое отображение XP → (уровень, тир, нижняя и верхняя граница)
//   - Profile: агрегат прогресса (XP, уровень, тир, серия дней, версия)
//   - AdvanceStreak: переход серии активных дней по календарным дням
//   - ProfileRepository, ThresholdRepository: контракты хранилища
//
// # Принципы
//
//  1. Без сторонних библиотек: только stdlib и pkg/timeutil
//  2. Все вычисления чистые; запись выполняет слой application
//  3. Оптимистичная конкуренция: Profile.Version проверяется при каждой записи
//
// # Уровни
//
// Уровень вычисляется по таблице порогов:
//
//	table, err := NewThresholdTable([]Threshold{
//	    {Level: 1, MinXP: 0, Tier: TierBronze},
//	    {Level: 2, MinXP: 100, Tier: TierBronze},
//	    {Level: 3, MinXP: 250, Tier: TierSilver},
//	})
//	info := NewLevelResolver(table, DefaultLevelSpan).Resolve(150)
//	// info.Level == 2, info.NextLevelCeiling == 250
//
// Пустая таблица не является ошибкой: резолвер переходит на линейную
// кривую (уровень = xp/100 + 1, тир bronze) и помечает результат
// флагом Fallback, чтобы вызывающий код мог это залогировать.
//
// # Серии дней
//
// AdvanceStreak работает с календарными днями (см. pkg/timeutil):
// тот же день ничего не меняет, следующий день продолжает серию,
// любой больший разрыв начинает серию заново с 1.
package progression
